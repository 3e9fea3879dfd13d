package finance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the stored or derived state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePartial   InvoiceStatus = "partial"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// ParseInvoiceStatus accepts any known status.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	switch s := InvoiceStatus(value); s {
	case InvoiceDraft, InvoiceSent, InvoicePartial, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return s, nil
	default:
		return "", ErrInvalidInvoiceStatus
	}
}

// PaymentMethod is how a payment was made.
type PaymentMethod string

const (
	PayCash         PaymentMethod = "cash"
	PayCard         PaymentMethod = "card"
	PayBankTransfer PaymentMethod = "bank_transfer"
	PayOther        PaymentMethod = "other"
)

// ParsePaymentMethod accepts a known method; empty means other.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	switch m := PaymentMethod(value); m {
	case "":
		return PayOther, nil
	case PayCash, PayCard, PayBankTransfer, PayOther:
		return m, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// InvoiceItem is one priced line of an invoice. Rates are percentages.
type InvoiceItem struct {
	ID             string
	InvoiceID      string
	Description    string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	TaxRate        decimal.Decimal
	Discount       decimal.Decimal
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Price validates the item and fills its computed amounts.
func (it *InvoiceItem) Price() error {
	it.Description = strings.TrimSpace(it.Description)
	if it.Description == "" {
		return fmt.Errorf("%w: description required", ErrInvoiceItems)
	}
	if !it.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvoiceItems)
	}
	if it.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvoiceItems)
	}
	if it.TaxRate.IsNegative() || it.TaxRate.GreaterThan(hundred) {
		return fmt.Errorf("%w: tax rate must be between 0 and 100", ErrInvoiceItems)
	}
	if it.Discount.IsNegative() || it.Discount.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount must be between 0 and 100", ErrInvoiceItems)
	}
	it.Subtotal = Money(it.Quantity.Mul(it.UnitPrice))
	it.TaxAmount = Money(it.Subtotal.Mul(it.TaxRate).Div(hundred))
	it.DiscountAmount = Money(it.Subtotal.Mul(it.Discount).Div(hundred))
	it.Total = it.Subtotal.Add(it.TaxAmount).Sub(it.DiscountAmount)
	return nil
}

// Payment is money received against an invoice.
type Payment struct {
	ID            string
	InvoiceID     string
	Amount        decimal.Decimal
	Method        PaymentMethod
	PaymentDate   time.Time
	Reference     string
	Notes         string
	TransactionID string
	CreatedBy     string
	CreatedAt     time.Time
}

// Invoice is a bill to a customer with its items and payments.
type Invoice struct {
	ID                 string
	Number             string
	CustomerID         string
	IssueDate          time.Time
	DueDate            time.Time
	Currency           string
	Notes              string
	Status             InvoiceStatus
	Subtotal           decimal.Decimal
	TaxAmount          decimal.Decimal
	DiscountAmount     decimal.Decimal
	TotalAmount        decimal.Decimal
	CancellationReason string
	CancelledBy        string
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Items              []InvoiceItem
	Payments           []Payment
}

// SetItems prices items and recomputes the invoice totals. A set of items
// that totals zero is rejected and leaves inv unchanged.
func (inv *Invoice) SetItems(items []InvoiceItem) error {
	if len(items) == 0 {
		return ErrInvoiceItems
	}
	subtotal, tax, discount := decimal.Zero, decimal.Zero, decimal.Zero
	for i := range items {
		if err := items[i].Price(); err != nil {
			return err
		}
		subtotal = subtotal.Add(items[i].Subtotal)
		tax = tax.Add(items[i].TaxAmount)
		discount = discount.Add(items[i].DiscountAmount)
	}
	total := subtotal.Add(tax).Sub(discount)
	if !total.IsPositive() {
		return ErrInvoiceZeroTotal
	}
	inv.Items = items
	inv.Subtotal = subtotal
	inv.TaxAmount = tax
	inv.DiscountAmount = discount
	inv.TotalAmount = total
	return nil
}

// TotalPaid sums the payments.
func (inv *Invoice) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, p := range inv.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// BalanceDue is what remains to be paid.
func (inv *Invoice) BalanceDue() decimal.Decimal {
	if inv.Status == InvoiceCancelled {
		return decimal.Zero
	}
	return inv.TotalAmount.Sub(inv.TotalPaid())
}

// Closed reports whether no more payments are accepted.
func (inv *Invoice) Closed() bool {
	return inv.Status == InvoicePaid || inv.Status == InvoiceCancelled
}

// Editable reports whether items and dates may still change.
func (inv *Invoice) Editable() bool {
	switch inv.Status {
	case InvoiceDraft, InvoiceSent, InvoiceOverdue:
		return len(inv.Payments) == 0
	default:
		return false
	}
}

// SettledStatus derives the stored status from the paid amount. base is
// the status the invoice has while nothing is paid.
func SettledStatus(base InvoiceStatus, paid, total decimal.Decimal) InvoiceStatus {
	switch {
	case base == InvoiceCancelled:
		return InvoiceCancelled
	case paid.IsPositive() && paid.GreaterThanOrEqual(total):
		return InvoicePaid
	case paid.IsPositive():
		return InvoicePartial
	case base == InvoicePartial || base == InvoicePaid:
		return InvoiceSent
	default:
		return base
	}
}

// EffectiveStatus reports overdue for unpaid sent or partial invoices past
// their due date. It is never stored.
func (inv *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if inv.Status != InvoiceSent && inv.Status != InvoicePartial {
		return inv.Status
	}
	if inv.DueDate.IsZero() || !now.After(endOfDay(inv.DueDate)) {
		return inv.Status
	}
	if !inv.BalanceDue().IsPositive() {
		return inv.Status
	}
	return InvoiceOverdue
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// InvoiceNumberPrefix returns INV-YYYYMM- for the issue month.
func InvoiceNumberPrefix(issued time.Time) string {
	return "INV-" + issued.UTC().Format("200601") + "-"
}

// FormatInvoiceNumber builds INV-YYYYMM-NNNN.
func FormatInvoiceNumber(issued time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", InvoiceNumberPrefix(issued), seq)
}
