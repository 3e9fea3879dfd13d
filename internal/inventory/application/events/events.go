package events

import "time"

const (
	aggregateReservation = "reservation"
	aggregateStock       = "stock"
)

// ReservedLine is the line shape carried by reservation events.
type ReservedLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// StockReserved is emitted when an order's hold is placed.
type StockReserved struct {
	OrderID       string         `json:"order_id"`
	ReservationID string         `json:"reservation_id"`
	Lines         []ReservedLine `json:"lines"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (e StockReserved) EventName() string     { return "inventory.reserved" }
func (e StockReserved) AggregateType() string { return aggregateReservation }
func (e StockReserved) AggregateID() string   { return e.OrderID }

// ReservationReleased is emitted when a hold returns to stock.
type ReservationReleased struct {
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ReservationReleased) EventName() string     { return "inventory.released" }
func (e ReservationReleased) AggregateType() string { return aggregateReservation }
func (e ReservationReleased) AggregateID() string   { return e.OrderID }

// ReservationCompleted is emitted when a hold becomes a sale.
type ReservationCompleted struct {
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ReservationCompleted) EventName() string     { return "inventory.completed" }
func (e ReservationCompleted) AggregateType() string { return aggregateReservation }
func (e ReservationCompleted) AggregateID() string   { return e.OrderID }

// StockAdjusted is emitted when on-hand quantity is set manually.
type StockAdjusted struct {
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	AdjustedBy string    `json:"adjusted_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e StockAdjusted) EventName() string     { return "inventory.stock_adjusted" }
func (e StockAdjusted) AggregateType() string { return aggregateStock }
func (e StockAdjusted) AggregateID() string   { return e.ProductID }
