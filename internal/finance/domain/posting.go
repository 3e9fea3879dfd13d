package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// PostingType is the direction of a posting.
type PostingType string

const (
	Income  PostingType = "income"
	Expense PostingType = "expense"
)

// ParsePostingType accepts income or expense.
func ParsePostingType(value string) (PostingType, error) {
	switch PostingType(value) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	default:
		return "", ErrInvalidPostingType
	}
}

// ReferenceType names the entity a posting was created for.
type ReferenceType string

const (
	RefAccount ReferenceType = "account"
	RefInvoice ReferenceType = "invoice"
	RefOrder   ReferenceType = "order"
	RefManual  ReferenceType = "manual"
)

// Posting is one signed ledger entry against one account.
type Posting struct {
	ID                    string
	Type                  PostingType
	Amount                decimal.Decimal
	Currency              string
	CategoryID            string
	AccountID             string
	CounterpartyAccountID string
	Description           string
	TransactionDate       time.Time
	ReferenceID           string
	ReferenceType         ReferenceType
	CreatedBy             string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Delta returns the balance change the posting causes.
func (p Posting) Delta() decimal.Decimal {
	if p.Type == Expense {
		return p.Amount.Neg()
	}
	return p.Amount
}

// Validate checks type and amount.
func (p Posting) Validate() error {
	if p.Type != Income && p.Type != Expense {
		return ErrInvalidPostingType
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Locked reports whether the posting is owned by a transfer or an invoice
// payment and may only change through them.
func (p Posting) Locked() bool {
	return p.CounterpartyAccountID != "" || p.ReferenceType == RefAccount || p.ReferenceType == RefInvoice
}

// Category groups postings. (Name, Type) is unique.
type Category struct {
	ID        string
	Name      string
	Type      PostingType
	CreatedAt time.Time
}

// Replay computes a balance from postings.
func Replay(postings []Posting) decimal.Decimal {
	total := decimal.Zero
	for _, p := range postings {
		total = total.Add(p.Delta())
	}
	return total
}
