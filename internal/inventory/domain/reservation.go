package inventory

import (
	"context"
	"time"

	"erp-core/internal/eventing"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReleased  ReservationStatus = "released"
	ReservationCompleted ReservationStatus = "completed"
)

// Reservation is the stock hold of one order.
type Reservation struct {
	ID        string
	OrderID   string
	Status    ReservationStatus
	Lines     []Line
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementReservation MovementType = "RESERVATION"
	MovementRelease     MovementType = "RELEASE"
	MovementSale        MovementType = "SALE"
	MovementAdjustment  MovementType = "ADJUSTMENT"
)

// Movement is a logged stock change.
type Movement struct {
	ID        string
	ProductID string
	OrderID   string
	Type      MovementType
	Quantity  int
	CreatedAt time.Time
}

// ReserveOutcome reports what Reserve did.
type ReserveOutcome struct {
	Reservation *Reservation
	Shortages   []Shortage
	// Created is false when the order already held a reservation.
	Created bool
}

// Store persists stock and reservations. Events passed to a mutating call
// are written to the outbox only when the call changes state.
type Store interface {
	Stock(ctx context.Context, productIDs []string) (map[string]Stock, error)
	// Reserve holds lines for orderID. Shortages leave stock untouched.
	Reserve(ctx context.Context, reservation Reservation, events ...eventing.Event) (ReserveOutcome, error)
	// Release returns an active reservation to stock. It reports false
	// when there was nothing to release. An order without a reservation
	// is recorded as released so a later Reserve fails with
	// ErrReservationClosed.
	Release(ctx context.Context, orderID string, at time.Time, events ...eventing.Event) (bool, error)
	// Complete consumes an active reservation. It reports false when there
	// was nothing to complete; a missing reservation is recorded as
	// released like in Release.
	Complete(ctx context.Context, orderID string, at time.Time, events ...eventing.Event) (bool, error)
	// SetQuantity upserts on-hand quantity. On ErrBelowReserved the
	// current row is returned with the error.
	SetQuantity(ctx context.Context, productID string, quantity int, at time.Time, events ...eventing.Event) (Stock, error)
	Reservation(ctx context.Context, orderID string) (*Reservation, error)
	Movements(ctx context.Context, productID string, limit int) ([]Movement, error)
}
