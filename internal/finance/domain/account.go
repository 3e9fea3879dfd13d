package finance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies where money is held.
type AccountType string

const (
	AccountCash  AccountType = "cash"
	AccountBank  AccountType = "bank"
	AccountCard  AccountType = "card"
	AccountOther AccountType = "other"
)

// ParseAccountType accepts a known type; empty means other.
func ParseAccountType(value string) (AccountType, error) {
	switch AccountType(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return AccountOther, nil
	case AccountCash:
		return AccountCash, nil
	case AccountBank:
		return AccountBank, nil
	case AccountCard:
		return AccountCard, nil
	case AccountOther:
		return AccountOther, nil
	default:
		return "", ErrInvalidAccountType
	}
}

// Account holds a running balance. Balance is only changed together with
// the posting that explains the change.
type Account struct {
	ID             string
	Name           string
	Type           AccountType
	Currency       string
	InitialBalance decimal.Decimal
	Balance        decimal.Decimal
	IsActive       bool
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AccountDetails holds the writable account fields. Nil fields are left
// unchanged.
type AccountDetails struct {
	Name        *string
	Description *string
	IsActive    *bool
}

// Apply copies the set fields onto a.
func (d AccountDetails) Apply(a *Account) {
	if d.Name != nil {
		a.Name = strings.TrimSpace(*d.Name)
	}
	if d.Description != nil {
		a.Description = *d.Description
	}
	if d.IsActive != nil {
		a.IsActive = *d.IsActive
	}
}

// NormalizeCurrency upper-cases code, falling back to def.
func NormalizeCurrency(code, def string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return strings.ToUpper(def)
	}
	return code
}

// Money rounds an amount to cents.
func Money(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
