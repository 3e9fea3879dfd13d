package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const aggregateOrder = "order"

// OrderItem is the item shape carried by order events.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderCreated is emitted when an order is committed.
type OrderCreated struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItem     `json:"items"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (e OrderCreated) EventName() string     { return "order.created" }
func (e OrderCreated) AggregateType() string { return aggregateOrder }
func (e OrderCreated) AggregateID() string   { return e.OrderID }

// AssignOrderNumber sets the number generated when the order is stored.
func (e *OrderCreated) AssignOrderNumber(number string) { e.OrderNumber = number }

// OrderStatusChanged is emitted for every committed transition, including
// the cancellation written by saga compensation.
type OrderStatusChanged struct {
	OrderID    string    `json:"order_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Comment    string    `json:"comment,omitempty"`
	ChangedBy  string    `json:"changed_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderStatusChanged) EventName() string     { return "order.status_changed" }
func (e OrderStatusChanged) AggregateType() string { return aggregateOrder }
func (e OrderStatusChanged) AggregateID() string   { return e.OrderID }

// OrderUpdated is emitted when shipping or payment details change.
type OrderUpdated struct {
	OrderID    string    `json:"order_id"`
	UpdatedBy  string    `json:"updated_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderUpdated) EventName() string     { return "order.updated" }
func (e OrderUpdated) AggregateType() string { return aggregateOrder }
func (e OrderUpdated) AggregateID() string   { return e.OrderID }

// OrderDeleted is emitted when a new order is removed.
type OrderDeleted struct {
	OrderID    string    `json:"order_id"`
	DeletedBy  string    `json:"deleted_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderDeleted) EventName() string     { return "order.deleted" }
func (e OrderDeleted) AggregateType() string { return aggregateOrder }
func (e OrderDeleted) AggregateID() string   { return e.OrderID }
