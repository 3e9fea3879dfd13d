package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"erp-core/internal/eventing"
	inventory "erp-core/internal/inventory/domain"
	"erp-core/internal/platform/database"
)

// Store persists stock, reservations and stock movements. Every mutation
// locks the reservation row first and then stock rows in product id order.
type Store struct {
	db        *sql.DB
	publisher *eventing.Publisher
}

// NewStore constructs a store.
func NewStore(db *sql.DB, publisher *eventing.Publisher) *Store {
	return &Store{db: db, publisher: publisher}
}

// Stock returns the stock rows of productIDs keyed by product id.
func (s *Store) Stock(ctx context.Context, productIDs []string) (map[string]inventory.Stock, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("inventory store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT product_id, quantity, quantity_reserved, updated_at
FROM inventory_stock
WHERE product_id = ANY($1)`, productIDs)
	if err != nil {
		return nil, err
	}
	return collectStock(rows)
}

// Reserve holds the reservation lines. An existing active or completed
// reservation for the order is returned unchanged.
func (s *Store) Reserve(ctx context.Context, reservation inventory.Reservation, events ...eventing.Event) (inventory.ReserveOutcome, error) {
	if s == nil || s.db == nil {
		return inventory.ReserveOutcome{}, errors.New("inventory store: nil db")
	}
	outcome, err := s.reserve(ctx, reservation, events)
	if database.IsUniqueViolation(err) {
		// A concurrent reserve for the same order committed first.
		return s.existing(ctx, reservation.OrderID)
	}
	return outcome, err
}

func (s *Store) reserve(ctx context.Context, reservation inventory.Reservation, events []eventing.Event) (inventory.ReserveOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.ReserveOutcome{}, err
	}
	current, err := lockReservation(ctx, tx, reservation.OrderID)
	if err != nil {
		_ = tx.Rollback()
		return inventory.ReserveOutcome{}, err
	}
	if current != nil {
		_ = tx.Rollback()
		return existingOutcome(current)
	}

	ids := make([]string, 0, len(reservation.Lines))
	for _, line := range reservation.Lines {
		ids = append(ids, line.ProductID)
	}
	stock, err := lockStock(ctx, tx, ids)
	if err != nil {
		_ = tx.Rollback()
		return inventory.ReserveOutcome{}, err
	}
	if shortages := inventory.Shortages(reservation.Lines, stock); len(shortages) > 0 {
		_ = tx.Rollback()
		return inventory.ReserveOutcome{Shortages: shortages}, nil
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO inventory_reservations (id, order_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)`,
		reservation.ID, reservation.OrderID, string(inventory.ReservationActive), reservation.CreatedAt, reservation.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		return inventory.ReserveOutcome{}, err
	}
	for _, line := range reservation.Lines {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO inventory_reservation_lines (reservation_id, product_id, quantity)
VALUES ($1,$2,$3)`, reservation.ID, line.ProductID, line.Quantity); err != nil {
			_ = tx.Rollback()
			return inventory.ReserveOutcome{}, err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE inventory_stock
SET quantity_reserved = quantity_reserved + $2, updated_at = $3
WHERE product_id = $1`, line.ProductID, line.Quantity, reservation.CreatedAt); err != nil {
			_ = tx.Rollback()
			return inventory.ReserveOutcome{}, err
		}
		if err := insertMovement(ctx, tx, line.ProductID, reservation.OrderID, inventory.MovementReservation, line.Quantity, reservation.CreatedAt); err != nil {
			_ = tx.Rollback()
			return inventory.ReserveOutcome{}, err
		}
	}
	if err := s.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return inventory.ReserveOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return inventory.ReserveOutcome{}, err
	}
	return inventory.ReserveOutcome{Reservation: &reservation, Created: true}, nil
}

func (s *Store) existing(ctx context.Context, orderID string) (inventory.ReserveOutcome, error) {
	current, err := s.Reservation(ctx, orderID)
	if err != nil {
		return inventory.ReserveOutcome{}, err
	}
	if current == nil {
		return inventory.ReserveOutcome{}, errors.New("inventory store: reservation vanished after conflict")
	}
	return existingOutcome(current)
}

func existingOutcome(current *inventory.Reservation) (inventory.ReserveOutcome, error) {
	if current.Status == inventory.ReservationReleased {
		return inventory.ReserveOutcome{}, inventory.ErrReservationClosed
	}
	return inventory.ReserveOutcome{Reservation: current}, nil
}

// Release returns an active reservation to stock.
func (s *Store) Release(ctx context.Context, orderID string, at time.Time, events ...eventing.Event) (bool, error) {
	return s.settle(ctx, orderID, at, inventory.ReservationReleased, events)
}

// Complete consumes an active reservation.
func (s *Store) Complete(ctx context.Context, orderID string, at time.Time, events ...eventing.Event) (bool, error) {
	return s.settle(ctx, orderID, at, inventory.ReservationCompleted, events)
}

func (s *Store) settle(ctx context.Context, orderID string, at time.Time, target inventory.ReservationStatus, events []eventing.Event) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("inventory store: nil db")
	}
	settled, raced, err := s.settleOnce(ctx, orderID, at, target, events)
	if raced {
		// A reserve for the order committed between the lookup and the
		// tombstone insert; settle the reservation it created.
		settled, _, err = s.settleOnce(ctx, orderID, at, target, events)
	}
	return settled, err
}

// settleOnce reports raced when a concurrent reserve won the insert of the
// tombstone row.
func (s *Store) settleOnce(ctx context.Context, orderID string, at time.Time, target inventory.ReservationStatus, events []eventing.Event) (settled, raced bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	current, err := lockReservation(ctx, tx, orderID)
	if err != nil {
		_ = tx.Rollback()
		return false, false, err
	}
	if current == nil {
		inserted, err := insertTombstone(ctx, tx, orderID, at)
		if err != nil {
			_ = tx.Rollback()
			return false, false, err
		}
		if !inserted {
			_ = tx.Rollback()
			return false, true, nil
		}
		return false, false, tx.Commit()
	}
	if current.Status != inventory.ReservationActive {
		_ = tx.Rollback()
		return false, false, nil
	}
	ids := make([]string, 0, len(current.Lines))
	for _, line := range current.Lines {
		ids = append(ids, line.ProductID)
	}
	if _, err := lockStock(ctx, tx, ids); err != nil {
		_ = tx.Rollback()
		return false, false, err
	}

	movement := inventory.MovementRelease
	update := `
UPDATE inventory_stock
SET quantity_reserved = GREATEST(quantity_reserved - $2, 0), updated_at = $3
WHERE product_id = $1`
	if target == inventory.ReservationCompleted {
		movement = inventory.MovementSale
		update = `
UPDATE inventory_stock
SET quantity = GREATEST(quantity - $2, 0),
	quantity_reserved = GREATEST(quantity_reserved - $2, 0),
	updated_at = $3
WHERE product_id = $1`
	}
	for _, line := range current.Lines {
		if _, err := tx.ExecContext(ctx, update, line.ProductID, line.Quantity, at); err != nil {
			_ = tx.Rollback()
			return false, false, err
		}
		if err := insertMovement(ctx, tx, line.ProductID, orderID, movement, line.Quantity, at); err != nil {
			_ = tx.Rollback()
			return false, false, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE inventory_reservations SET status = $2, updated_at = $3 WHERE id = $1`,
		current.ID, string(target), at); err != nil {
		_ = tx.Rollback()
		return false, false, err
	}
	if err := s.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return false, false, err
	}
	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// insertTombstone records a released reservation without lines so that a
// reserve arriving after the release is refused.
func insertTombstone(ctx context.Context, tx *sql.Tx, orderID string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
INSERT INTO inventory_reservations (id, order_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4)
ON CONFLICT (order_id) DO NOTHING`,
		uuid.NewString(), orderID, string(inventory.ReservationReleased), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetQuantity upserts the on-hand quantity of productID.
func (s *Store) SetQuantity(ctx context.Context, productID string, quantity int, at time.Time, events ...eventing.Event) (inventory.Stock, error) {
	if s == nil || s.db == nil {
		return inventory.Stock{}, errors.New("inventory store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Stock{}, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO inventory_stock (product_id, quantity, quantity_reserved, updated_at)
VALUES ($1, 0, 0, $2)
ON CONFLICT (product_id) DO NOTHING`, productID, at); err != nil {
		_ = tx.Rollback()
		return inventory.Stock{}, err
	}
	locked, err := lockStock(ctx, tx, []string{productID})
	if err != nil {
		_ = tx.Rollback()
		return inventory.Stock{}, err
	}
	current := locked[productID]
	if quantity < current.Reserved {
		_ = tx.Rollback()
		return current, inventory.ErrBelowReserved
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE inventory_stock SET quantity = $2, updated_at = $3 WHERE product_id = $1`,
		productID, quantity, at); err != nil {
		_ = tx.Rollback()
		return inventory.Stock{}, err
	}
	if delta := quantity - current.Quantity; delta != 0 {
		if err := insertMovement(ctx, tx, productID, "", inventory.MovementAdjustment, delta, at); err != nil {
			_ = tx.Rollback()
			return inventory.Stock{}, err
		}
	}
	if err := s.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return inventory.Stock{}, err
	}
	if err := tx.Commit(); err != nil {
		return inventory.Stock{}, err
	}
	current.Quantity = quantity
	current.UpdatedAt = at
	return current, nil
}

// Reservation returns the reservation of orderID with its lines, or nil.
func (s *Store) Reservation(ctx context.Context, orderID string) (*inventory.Reservation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("inventory store: nil db")
	}
	return loadReservation(ctx, s.db, orderID, false)
}

// Movements returns the latest movements of productID, newest first.
func (s *Store) Movements(ctx context.Context, productID string, limit int) ([]inventory.Movement, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("inventory store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, product_id, COALESCE(order_id, ''), type, quantity, created_at
FROM inventory_transactions
WHERE product_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []inventory.Movement
	for rows.Next() {
		var (
			movement inventory.Movement
			kind     string
		)
		if err := rows.Scan(&movement.ID, &movement.ProductID, &movement.OrderID, &kind, &movement.Quantity, &movement.CreatedAt); err != nil {
			return nil, err
		}
		movement.Type = inventory.MovementType(kind)
		result = append(result, movement)
	}
	return result, rows.Err()
}

func lockReservation(ctx context.Context, tx *sql.Tx, orderID string) (*inventory.Reservation, error) {
	return loadReservation(ctx, tx, orderID, true)
}

func loadReservation(ctx context.Context, q database.Queryer, orderID string, forUpdate bool) (*inventory.Reservation, error) {
	query := `
SELECT id, order_id, status, created_at, updated_at
FROM inventory_reservations
WHERE order_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		reservation inventory.Reservation
		status      string
	)
	err := q.QueryRowContext(ctx, query, orderID).Scan(&reservation.ID, &reservation.OrderID, &status, &reservation.CreatedAt, &reservation.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	reservation.Status = inventory.ReservationStatus(status)

	rows, err := q.QueryContext(ctx, `
SELECT product_id, quantity
FROM inventory_reservation_lines
WHERE reservation_id = $1
ORDER BY product_id ASC`, reservation.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line inventory.Line
		if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
			return nil, err
		}
		reservation.Lines = append(reservation.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &reservation, nil
}

func lockStock(ctx context.Context, tx *sql.Tx, productIDs []string) (map[string]inventory.Stock, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT product_id, quantity, quantity_reserved, updated_at
FROM inventory_stock
WHERE product_id = ANY($1)
ORDER BY product_id
FOR UPDATE`, productIDs)
	if err != nil {
		return nil, err
	}
	return collectStock(rows)
}

func collectStock(rows *sql.Rows) (map[string]inventory.Stock, error) {
	defer rows.Close()
	result := make(map[string]inventory.Stock)
	for rows.Next() {
		var stock inventory.Stock
		if err := rows.Scan(&stock.ProductID, &stock.Quantity, &stock.Reserved, &stock.UpdatedAt); err != nil {
			return nil, err
		}
		result[stock.ProductID] = stock
	}
	return result, rows.Err()
}

func insertMovement(ctx context.Context, exec database.Execer, productID, orderID string, kind inventory.MovementType, quantity int, at time.Time) error {
	var order sql.NullString
	if orderID != "" {
		order = sql.NullString{String: orderID, Valid: true}
	}
	_, err := exec.ExecContext(ctx, `
INSERT INTO inventory_transactions (id, product_id, order_id, type, quantity, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), productID, order, string(kind), quantity, at)
	return err
}
