// Package memory provides an in-process order repository for tests and
// local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"erp-core/internal/eventing"
	orders "erp-core/internal/orders/domain"
)

// OrderRepository keeps orders in memory. Events are appended to the
// optional outbox.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]*orders.Order
	perDay map[string]int
	outbox *eventing.MemoryOutbox
	failOn map[string]error
}

// NewOrderRepository constructs an empty repository.
func NewOrderRepository(outbox *eventing.MemoryOutbox) *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*orders.Order),
		perDay: make(map[string]int),
		outbox: outbox,
		failOn: make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with nil.
func (r *OrderRepository) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failOn, method)
		return
	}
	r.failOn[method] = err
}

// Count returns the number of stored orders.
func (r *OrderRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *OrderRepository) Create(ctx context.Context, order *orders.Order, events ...eventing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn["Create"]; err != nil {
		return err
	}
	prefix := orders.OrderNumberPrefix(order.CreatedAt)
	r.perDay[prefix]++
	order.OrderNumber = orders.FormatOrderNumber(order.CreatedAt, r.perDay[prefix])
	for _, event := range events {
		if numbered, ok := event.(orders.NumberedEvent); ok {
			numbered.AssignOrderNumber(order.OrderNumber)
		}
	}
	r.orders[order.ID] = cloneOrder(order)
	return r.publish(ctx, events)
}

func (r *OrderRepository) Get(_ context.Context, id string) (*orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) List(_ context.Context, filter orders.Filter) ([]orders.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []orders.Order
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if !filter.From.IsZero() && order.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && order.CreatedAt.After(filter.To) {
			continue
		}
		clone := cloneOrder(order)
		clone.Items = nil
		clone.History = nil
		matched = append(matched, *clone)
	}
	desc := !strings.EqualFold(filter.SortOrder, "asc")
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return lessBy(filter.SortBy, matched[j], matched[i])
		}
		return lessBy(filter.SortBy, matched[i], matched[j])
	})
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (r *OrderRepository) ChangeStatus(ctx context.Context, id string, from, to orders.Status, entry orders.HistoryEntry, events ...eventing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn["ChangeStatus"]; err != nil {
		return err
	}
	order, ok := r.orders[id]
	if !ok || order.Status != from {
		return orders.ErrStatusConflict
	}
	order.Status = to
	order.UpdatedAt = entry.CreatedAt
	order.History = append(order.History, entry)
	return r.publish(ctx, events)
}

func (r *OrderRepository) UpdateDetails(ctx context.Context, id string, allowed []orders.Status, details orders.Details, events ...eventing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || !containsStatus(allowed, order.Status) {
		return orders.ErrStatusConflict
	}
	details.Apply(order)
	order.UpdatedAt = time.Now().UTC()
	return r.publish(ctx, events)
}

func (r *OrderRepository) Delete(ctx context.Context, id string, events ...eventing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if order.Status != orders.StatusNew {
		return orders.ErrStatusConflict
	}
	delete(r.orders, id)
	return r.publish(ctx, events)
}

func (r *OrderRepository) History(_ context.Context, id string) ([]orders.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return append([]orders.HistoryEntry(nil), order.History...), nil
}

func (r *OrderRepository) publish(ctx context.Context, events []eventing.Event) error {
	if r.outbox == nil {
		return nil
	}
	for _, event := range events {
		env, err := eventing.BuildEnvelope(ctx, event, eventing.MetaFromContext(ctx, ""))
		if err != nil {
			return err
		}
		r.outbox.Append(env)
	}
	return nil
}

func lessBy(column string, a, b orders.Order) bool {
	switch column {
	case "total_amount":
		return a.TotalAmount.LessThan(b.TotalAmount)
	case "order_number":
		return a.OrderNumber < b.OrderNumber
	case "status":
		return a.Status < b.Status
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func containsStatus(list []orders.Status, status orders.Status) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

func cloneOrder(order *orders.Order) *orders.Order {
	clone := *order
	clone.Items = append([]orders.Item(nil), order.Items...)
	clone.History = append([]orders.HistoryEntry(nil), order.History...)
	return &clone
}
