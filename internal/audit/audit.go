// Package audit records who changed what. Entries are written after the
// change commits; a failed audit write is logged and never undoes the change.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"erp-core/internal/auth"
	"erp-core/internal/eventing"
)

// Entry is one audited action.
type Entry struct {
	ID            string
	TenantID      string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	// CorrelationID matches the correlation id of the events the action
	// published.
	CorrelationID string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// Trail lists the entries of one resource, newest first.
type Trail interface {
	Trail(ctx context.Context, resourceType, resourceID string, limit int) ([]Entry, error)
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON returns the SHA-256 hex digest of a metadata payload.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromRequest builds an entry for action on resourceType/resourceID with the
// caller identity, client address and correlation id of r.
func FromRequest(r *http.Request, action, resourceType, resourceID string, metadata any) Entry {
	entry := Entry{
		Actor:        auth.SubjectSystem,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
			entry.PayloadDigest = DigestJSON(raw)
		}
	}
	if r == nil {
		return entry
	}
	ctx := r.Context()
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry.TenantID = id.TenantID
		entry.Role = string(id.Role)
	}
	entry.Actor = auth.ActorFromContext(ctx)
	entry.CorrelationID = eventing.CorrelationIDFromContext(ctx)
	entry.IP = ClientIP(r)
	entry.UserAgent = r.UserAgent()
	return entry
}

// System builds an entry for an action the service took on its own, such
// as saga compensation. The actor is always SubjectSystem.
func System(ctx context.Context, action, resourceType, resourceID string, metadata any) Entry {
	entry := FromRequest(nil, action, resourceType, resourceID, metadata)
	entry.TenantID = auth.TenantIDFromContext(ctx)
	entry.CorrelationID = eventing.CorrelationIDFromContext(ctx)
	return entry
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// host of r.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (e *Entry) fillDefaults(now time.Time) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.Actor == "" {
		e.Actor = auth.SubjectSystem
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
}
