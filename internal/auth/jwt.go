package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is set on tokens minted by IssueToken.
const Issuer = "erp-core"

const clockLeeway = 30 * time.Second

// Claims are the JWT claims accepted by the services.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT validates an HS256 token and returns the caller identity. Tokens
// must carry an expiry, a tenant and a known role.
func ParseJWT(tokenString string, secret []byte) (Identity, error) {
	if tokenString == "" {
		return Identity{}, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return Identity{}, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return Identity{}, err
	}
	if claims.TenantID == "" {
		return Identity{}, errors.New("auth: missing tenant_id")
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, errors.New("auth: invalid role")
	}
	return Identity{TenantID: claims.TenantID, Role: role, Subject: claims.Subject}, nil
}

// IssueToken signs an HS256 token for id that expires after ttl. It is used
// to mint service credentials such as the orders to inventory token.
func IssueToken(secret []byte, id Identity, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be positive")
	}
	if id.TenantID == "" {
		return "", errors.New("auth: missing tenant_id")
	}
	if _, ok := ParseRole(string(id.Role)); !ok {
		return "", errors.New("auth: invalid role")
	}
	claims := Claims{
		TenantID: id.TenantID,
		Role:     string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
