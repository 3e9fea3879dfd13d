package orders

import (
	"context"
	"time"

	"erp-core/internal/eventing"
)

// Sortable columns for List.
var SortColumns = map[string]string{
	"created_at":   "created_at",
	"total_amount": "total_amount",
	"order_number": "order_number",
	"status":       "status",
}

// Filter narrows List results.
type Filter struct {
	Status     Status
	CustomerID string
	From       time.Time
	To         time.Time
	SortBy     string
	SortOrder  string
	Limit      int
	Offset     int
}

// Repository persists orders. Every mutating call writes the given events
// to the outbox in the same local transaction.
type Repository interface {
	// Create stores the order, its items and its first history row and
	// assigns OrderNumber.
	Create(ctx context.Context, order *Order, events ...eventing.Event) error
	// Get returns the order with items and history, or nil when missing.
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, filter Filter) ([]Order, int, error)
	// ChangeStatus moves the order from -> to and appends entry. It returns
	// ErrStatusConflict when the stored status is no longer from.
	ChangeStatus(ctx context.Context, id string, from, to Status, entry HistoryEntry, events ...eventing.Event) error
	// UpdateDetails applies details while the status is one of allowed.
	UpdateDetails(ctx context.Context, id string, allowed []Status, details Details, events ...eventing.Event) error
	// Delete removes the order while its status is still new.
	Delete(ctx context.Context, id string, events ...eventing.Event) error
	History(ctx context.Context, id string) ([]HistoryEntry, error)
}

// NumberedEvent is implemented by events that carry the order number
// assigned inside Create.
type NumberedEvent interface {
	AssignOrderNumber(number string)
}
