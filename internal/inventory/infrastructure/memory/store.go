// Package memory provides an in-process inventory store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"erp-core/internal/eventing"
	inventory "erp-core/internal/inventory/domain"
)

// Store keeps stock and reservations behind one mutex.
type Store struct {
	mu           sync.Mutex
	stock        map[string]inventory.Stock
	reservations map[string]*inventory.Reservation
	movements    []inventory.Movement
	outbox       *eventing.MemoryOutbox
}

// NewStore constructs an empty store.
func NewStore(outbox *eventing.MemoryOutbox) *Store {
	return &Store{
		stock:        make(map[string]inventory.Stock),
		reservations: make(map[string]*inventory.Reservation),
		outbox:       outbox,
	}
}

// Seed sets on-hand quantities without logging movements.
func (s *Store) Seed(quantities map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, qty := range quantities {
		row := s.stock[id]
		row.ProductID = id
		row.Quantity = qty
		s.stock[id] = row
	}
}

func (s *Store) Stock(_ context.Context, productIDs []string) (map[string]inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]inventory.Stock, len(productIDs))
	for _, id := range productIDs {
		if row, ok := s.stock[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func (s *Store) Reserve(ctx context.Context, reservation inventory.Reservation, events ...eventing.Event) (inventory.ReserveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.reservations[reservation.OrderID]; ok {
		if current.Status == inventory.ReservationReleased {
			return inventory.ReserveOutcome{}, inventory.ErrReservationClosed
		}
		return inventory.ReserveOutcome{Reservation: cloneReservation(current)}, nil
	}
	if shortages := inventory.Shortages(reservation.Lines, s.stock); len(shortages) > 0 {
		return inventory.ReserveOutcome{Shortages: shortages}, nil
	}
	for _, line := range reservation.Lines {
		row := s.stock[line.ProductID]
		row.Reserved += line.Quantity
		row.UpdatedAt = reservation.CreatedAt
		s.stock[line.ProductID] = row
		s.log(line.ProductID, reservation.OrderID, inventory.MovementReservation, line.Quantity, reservation.CreatedAt)
	}
	s.reservations[reservation.OrderID] = cloneReservation(&reservation)
	s.publish(ctx, events)
	return inventory.ReserveOutcome{Reservation: cloneReservation(&reservation), Created: true}, nil
}

func (s *Store) Release(ctx context.Context, orderID string, at time.Time, events ...eventing.Event) (bool, error) {
	return s.settle(ctx, orderID, at, inventory.ReservationReleased, events), nil
}

func (s *Store) Complete(ctx context.Context, orderID string, at time.Time, events ...eventing.Event) (bool, error) {
	return s.settle(ctx, orderID, at, inventory.ReservationCompleted, events), nil
}

func (s *Store) settle(ctx context.Context, orderID string, at time.Time, target inventory.ReservationStatus, events []eventing.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reservations[orderID]
	if !ok {
		s.reservations[orderID] = tombstone(orderID, at)
		return false
	}
	if current.Status != inventory.ReservationActive {
		return false
	}
	for _, line := range current.Lines {
		row := s.stock[line.ProductID]
		row.Reserved = max(row.Reserved-line.Quantity, 0)
		kind := inventory.MovementRelease
		if target == inventory.ReservationCompleted {
			row.Quantity = max(row.Quantity-line.Quantity, 0)
			kind = inventory.MovementSale
		}
		row.UpdatedAt = at
		s.stock[line.ProductID] = row
		s.log(line.ProductID, orderID, kind, line.Quantity, at)
	}
	current.Status = target
	current.UpdatedAt = at
	s.publish(ctx, events)
	return true
}

func (s *Store) SetQuantity(ctx context.Context, productID string, quantity int, at time.Time, events ...eventing.Event) (inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.stock[productID]
	row.ProductID = productID
	if quantity < row.Reserved {
		return row, inventory.ErrBelowReserved
	}
	if delta := quantity - row.Quantity; delta != 0 {
		s.log(productID, "", inventory.MovementAdjustment, delta, at)
	}
	row.Quantity = quantity
	row.UpdatedAt = at
	s.stock[productID] = row
	s.publish(ctx, events)
	return row, nil
}

func (s *Store) Reservation(_ context.Context, orderID string) (*inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reservations[orderID]
	if !ok {
		return nil, nil
	}
	return cloneReservation(current), nil
}

func (s *Store) Movements(_ context.Context, productID string, limit int) ([]inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for i := len(s.movements) - 1; i >= 0; i-- {
		if s.movements[i].ProductID != productID {
			continue
		}
		out = append(out, s.movements[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) log(productID, orderID string, kind inventory.MovementType, quantity int, at time.Time) {
	s.movements = append(s.movements, inventory.Movement{
		ID:        uuid.NewString(),
		ProductID: productID,
		OrderID:   orderID,
		Type:      kind,
		Quantity:  quantity,
		CreatedAt: at,
	})
}

func (s *Store) publish(ctx context.Context, events []eventing.Event) {
	if s.outbox == nil {
		return
	}
	for _, event := range events {
		if env, err := eventing.BuildEnvelope(ctx, event, eventing.MetaFromContext(ctx, "")); err == nil {
			s.outbox.Append(env)
		}
	}
}

func tombstone(orderID string, at time.Time) *inventory.Reservation {
	return &inventory.Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    inventory.ReservationReleased,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func cloneReservation(r *inventory.Reservation) *inventory.Reservation {
	clone := *r
	clone.Lines = append([]inventory.Line(nil), r.Lines...)
	sort.Slice(clone.Lines, func(i, j int) bool { return clone.Lines[i].ProductID < clone.Lines[j].ProductID })
	return &clone
}
