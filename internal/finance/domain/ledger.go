package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"erp-core/internal/eventing"
)

// RecordTx holds the writes of one local transaction that do not touch an
// account balance.
type RecordTx interface {
	// LockAccounts loads and row-locks accounts in id order. Missing ids
	// are absent from the result.
	LockAccounts(ctx context.Context, ids ...string) (map[string]Account, error)
	InsertAccount(ctx context.Context, account Account) error
	// LockPosting loads and row-locks a posting, or returns nil.
	LockPosting(ctx context.Context, id string) (*Posting, error)
	// LockInvoice loads and row-locks an invoice with items and payments,
	// or returns nil.
	LockInvoice(ctx context.Context, id string) (*Invoice, error)
	InsertPayment(ctx context.Context, payment Payment) error
	UpdateInvoiceStatus(ctx context.Context, id string, status InvoiceStatus, at time.Time) error
	CancelInvoice(ctx context.Context, id, reason, by string, at time.Time) error
	Publish(ctx context.Context, events ...eventing.Event) error
}

// BalanceTx adds the posting and balance writes. Only the balance mutator
// receives it.
type BalanceTx interface {
	RecordTx
	InsertPosting(ctx context.Context, posting Posting) error
	UpdatePosting(ctx context.Context, posting Posting) error
	DeletePosting(ctx context.Context, id string) error
	// AdjustBalance adds delta to the account balance and returns the new
	// balance. With requireCovered the update is skipped and
	// ErrInsufficientFunds returned when the result would be negative.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal, requireCovered bool) (decimal.Decimal, error)
}

// Ledger runs fn inside one local transaction. An error from fn rolls
// everything back.
type Ledger interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx BalanceTx) error) error
}

// AccountFilter narrows account lists.
type AccountFilter struct {
	Type     AccountType
	Currency string
	Active   *bool
	Limit    int
	Offset   int
}

// PostingFilter narrows posting lists.
type PostingFilter struct {
	Type       PostingType
	CategoryID string
	AccountID  string
	From       time.Time
	To         time.Time
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal
	Limit      int
	Offset     int
}

// InvoiceFilter narrows invoice lists.
type InvoiceFilter struct {
	Status     InvoiceStatus
	CustomerID string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// AccountBalance pairs a stored balance with its replay from postings.
type AccountBalance struct {
	AccountID string
	Name      string
	Currency  string
	Stored    decimal.Decimal
	Replayed  decimal.Decimal
	Postings  int
}

// Repository is the read side and the writes that never touch balances.
type Repository interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, int, error)
	UpdateAccount(ctx context.Context, id string, details AccountDetails, at time.Time) (*Account, error)
	// DeleteAccount removes an account without postings. It returns
	// ErrAccountHasPostings otherwise.
	DeleteAccount(ctx context.Context, id string) error

	ListCategories(ctx context.Context, kind PostingType) ([]Category, error)
	GetCategory(ctx context.Context, id string) (*Category, error)
	// EnsureCategory returns the category with (name, type), creating it
	// when missing.
	EnsureCategory(ctx context.Context, name string, kind PostingType) (*Category, error)
	CreateCategory(ctx context.Context, category Category) error

	GetPosting(ctx context.Context, id string) (*Posting, error)
	ListPostings(ctx context.Context, filter PostingFilter) ([]Posting, int, error)
	// PostingsBetween returns the postings of an account in [from, to)
	// ordered by date, and the balance before from.
	PostingsBetween(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, []Posting, error)
	Balances(ctx context.Context) ([]AccountBalance, error)

	// CreateInvoice stores the invoice and items, assigning a number when
	// empty.
	CreateInvoice(ctx context.Context, invoice *Invoice, events ...eventing.Event) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
	// ReplaceInvoice stores changed dates, notes, items and totals while
	// the invoice has no payments and one of allowed statuses.
	ReplaceInvoice(ctx context.Context, invoice *Invoice, allowed []InvoiceStatus, events ...eventing.Event) error
	DeleteInvoice(ctx context.Context, id string, events ...eventing.Event) error
	// SetInvoiceStatus moves from -> to; a different stored status yields
	// ErrInvalidInvoiceStatus.
	SetInvoiceStatus(ctx context.Context, id string, from, to InvoiceStatus, at time.Time, events ...eventing.Event) error
	Payments(ctx context.Context, invoiceID string) ([]Payment, error)
}

// NumberedEvent is implemented by events that carry the invoice number
// assigned inside CreateInvoice.
type NumberedEvent interface {
	AssignInvoiceNumber(number string)
}
