package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	aggregateAccount = "account"
	aggregateInvoice = "invoice"
)

// AccountCreated is emitted when an account is opened.
type AccountCreated struct {
	AccountID      string          `json:"account_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func (e AccountCreated) EventName() string     { return "ledger.account_created" }
func (e AccountCreated) AggregateType() string { return aggregateAccount }
func (e AccountCreated) AggregateID() string   { return e.AccountID }

// PostingRecorded is emitted for every posting insert, update or delete.
type PostingRecorded struct {
	Op         string          `json:"op"`
	PostingID  string          `json:"posting_id"`
	AccountID  string          `json:"account_id"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (e PostingRecorded) EventName() string     { return "ledger.posting_" + e.Op }
func (e PostingRecorded) AggregateType() string { return aggregateAccount }
func (e PostingRecorded) AggregateID() string   { return e.AccountID }

// TransferCompleted is emitted once per transfer.
type TransferCompleted struct {
	SourceAccountID string          `json:"source_account_id"`
	TargetAccountID string          `json:"target_account_id"`
	DebitPostingID  string          `json:"debit_posting_id"`
	CreditPostingID string          `json:"credit_posting_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

func (e TransferCompleted) EventName() string     { return "ledger.transfer_completed" }
func (e TransferCompleted) AggregateType() string { return aggregateAccount }
func (e TransferCompleted) AggregateID() string   { return e.SourceAccountID }

// InvoiceChanged is emitted when an invoice is created, updated, sent or
// deleted.
type InvoiceChanged struct {
	Op          string          `json:"op"`
	InvoiceID   string          `json:"invoice_id"`
	Number      string          `json:"invoice_number"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (e InvoiceChanged) EventName() string     { return "invoice." + e.Op }
func (e InvoiceChanged) AggregateType() string { return aggregateInvoice }
func (e InvoiceChanged) AggregateID() string   { return e.InvoiceID }

// AssignInvoiceNumber sets the number generated when the invoice is stored.
func (e *InvoiceChanged) AssignInvoiceNumber(number string) { e.Number = number }

// PaymentRecorded is emitted when a payment is applied to an invoice.
type PaymentRecorded struct {
	InvoiceID     string          `json:"invoice_id"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func (e PaymentRecorded) EventName() string     { return "invoice.payment_recorded" }
func (e PaymentRecorded) AggregateType() string { return aggregateInvoice }
func (e PaymentRecorded) AggregateID() string   { return e.InvoiceID }

// InvoiceCancelled is emitted when an unpaid invoice is cancelled.
type InvoiceCancelled struct {
	InvoiceID   string    `json:"invoice_id"`
	Reason      string    `json:"reason"`
	CancelledBy string    `json:"cancelled_by"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e InvoiceCancelled) EventName() string     { return "invoice.cancelled" }
func (e InvoiceCancelled) AggregateType() string { return aggregateInvoice }
func (e InvoiceCancelled) AggregateID() string   { return e.InvoiceID }
