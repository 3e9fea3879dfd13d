package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Shipping methods.
const (
	ShippingNovaPoshta = "nova_poshta"
	ShippingUkrposhta  = "ukrposhta"
	ShippingSelfPickup = "self_pickup"
	ShippingCourier    = "courier"
)

// Payment methods.
const (
	PaymentCard         = "card"
	PaymentCash         = "cash"
	PaymentBankTransfer = "bank_transfer"
	PaymentCrypto       = "crypto"
)

// Order is a customer order with its items and status history.
type Order struct {
	ID                 string
	OrderNumber        string
	CustomerID         string
	Status             Status
	TotalAmount        decimal.Decimal
	ShippingAddress    string
	ShippingCity       string
	ShippingPostalCode string
	ShippingCountry    string
	ShippingMethod     string
	PaymentMethod      string
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Items              []Item
	History            []HistoryEntry
}

// Item is one order line. Items never change after creation.
type Item struct {
	ID         string
	OrderID    string
	ProductID  string
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// HistoryEntry is an append-only record of a status change.
type HistoryEntry struct {
	ID        string
	OrderID   string
	Status    Status
	Comment   string
	ChangedBy string
	CreatedAt time.Time
}

// Details holds the mutable order fields. Nil fields are left unchanged.
type Details struct {
	ShippingAddress    *string
	ShippingCity       *string
	ShippingPostalCode *string
	ShippingCountry    *string
	ShippingMethod     *string
	PaymentMethod      *string
	Notes              *string
}

// Empty reports whether d changes nothing.
func (d Details) Empty() bool {
	return d.ShippingAddress == nil && d.ShippingCity == nil && d.ShippingPostalCode == nil &&
		d.ShippingCountry == nil && d.ShippingMethod == nil && d.PaymentMethod == nil && d.Notes == nil
}

// Validate checks enumerated fields.
func (d Details) Validate() error {
	if d.ShippingMethod != nil {
		if err := ValidateShippingMethod(*d.ShippingMethod); err != nil {
			return err
		}
	}
	if d.PaymentMethod != nil {
		if err := ValidatePaymentMethod(*d.PaymentMethod); err != nil {
			return err
		}
	}
	return nil
}

// Apply copies the set fields of d onto o.
func (d Details) Apply(o *Order) {
	if d.ShippingAddress != nil {
		o.ShippingAddress = *d.ShippingAddress
	}
	if d.ShippingCity != nil {
		o.ShippingCity = *d.ShippingCity
	}
	if d.ShippingPostalCode != nil {
		o.ShippingPostalCode = *d.ShippingPostalCode
	}
	if d.ShippingCountry != nil {
		o.ShippingCountry = *d.ShippingCountry
	}
	if d.ShippingMethod != nil {
		o.ShippingMethod = *d.ShippingMethod
	}
	if d.PaymentMethod != nil {
		o.PaymentMethod = *d.PaymentMethod
	}
	if d.Notes != nil {
		o.Notes = *d.Notes
	}
}

// NewItem validates and prices one line.
func NewItem(productID string, quantity int, unitPrice decimal.Decimal) (Item, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Item{}, fmt.Errorf("%w: product id required", ErrInvalidItem)
	}
	if quantity <= 0 {
		return Item{}, fmt.Errorf("%w: quantity must be positive for product %s", ErrInvalidItem, productID)
	}
	if unitPrice.IsNegative() {
		return Item{}, fmt.Errorf("%w: price must not be negative for product %s", ErrInvalidItem, productID)
	}
	unitPrice = unitPrice.Round(2)
	return Item{
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
	}, nil
}

// Total sums the line totals of items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total.Round(2)
}

// ValidateShippingMethod accepts an empty value or a known method.
func ValidateShippingMethod(method string) error {
	switch method {
	case "", ShippingNovaPoshta, ShippingUkrposhta, ShippingSelfPickup, ShippingCourier:
		return nil
	default:
		return ErrInvalidShippingMethod
	}
}

// ValidatePaymentMethod accepts an empty value or a known method.
func ValidatePaymentMethod(method string) error {
	switch method {
	case "", PaymentCard, PaymentCash, PaymentBankTransfer, PaymentCrypto:
		return nil
	default:
		return ErrInvalidPaymentMethod
	}
}

// OrderNumberPrefix returns the YY-MM-DD- prefix for day.
func OrderNumberPrefix(day time.Time) string {
	return day.UTC().Format("06-01-02") + "-"
}

// FormatOrderNumber builds YY-MM-DD-NNNN for the seq-th order of day.
func FormatOrderNumber(day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", OrderNumberPrefix(day), seq)
}
