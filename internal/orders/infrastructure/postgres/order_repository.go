package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"erp-core/internal/eventing"
	orders "erp-core/internal/orders/domain"
	"erp-core/internal/platform/database"
)

const maxNumberAttempts = 5

// OrderRepository persists orders, items and status history.
type OrderRepository struct {
	db        *sql.DB
	reader    database.Queryer
	publisher *eventing.Publisher
}

// NewOrderRepository constructs a repository. Reads of lists go through
// reader when set.
func NewOrderRepository(db *sql.DB, reader database.Queryer, publisher *eventing.Publisher) *OrderRepository {
	if reader == nil {
		reader = db
	}
	return &OrderRepository{db: db, reader: reader, publisher: publisher}
}

// Create inserts the order with its items and first history row. The order
// number is taken from the per-day sequence and retried on collision.
func (r *OrderRepository) Create(ctx context.Context, order *orders.Order, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("order repo: nil db")
	}
	if order == nil {
		return errors.New("order repo: nil order")
	}
	var err error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		err = r.create(ctx, order, events)
		if err == nil || !database.IsUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("order repo: allocate order number: %w", err)
}

func (r *OrderRepository) create(ctx context.Context, order *orders.Order, events []eventing.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	prefix := orders.OrderNumberPrefix(order.CreatedAt)
	var count int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM orders WHERE order_number LIKE $1`, prefix+"%").Scan(&count); err != nil {
		_ = tx.Rollback()
		return err
	}
	number := orders.FormatOrderNumber(order.CreatedAt, count+1)

	_, err = tx.ExecContext(ctx, `
INSERT INTO orders (
	id, order_number, customer_id, status, total_amount,
	shipping_address, shipping_city, shipping_postal_code, shipping_country,
	shipping_method, payment_method, notes, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		order.ID, number, order.CustomerID, string(order.Status), order.TotalAmount,
		order.ShippingAddress, order.ShippingCity, order.ShippingPostalCode, order.ShippingCountry,
		order.ShippingMethod, order.PaymentMethod, order.Notes, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5,$6)`,
			item.ID, order.ID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, entry := range order.History {
		if err := insertHistory(ctx, tx, entry); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, event := range events {
		if numbered, ok := event.(orders.NumberedEvent); ok {
			numbered.AssignOrderNumber(number)
		}
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	order.OrderNumber = number
	return nil
}

// Get returns the order with items and history, or nil when missing.
func (r *OrderRepository) Get(ctx context.Context, id string) (*orders.Order, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("order repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil || order == nil {
		return nil, err
	}
	items, err := r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items
	history, err := r.History(ctx, id)
	if err != nil {
		return nil, err
	}
	order.History = history
	return order, nil
}

// List returns a filtered page of orders without items, and the total count.
func (r *OrderRepository) List(ctx context.Context, filter orders.Filter) ([]orders.Order, int, error) {
	if r == nil || r.reader == nil {
		return nil, 0, errors.New("order repo: nil db")
	}
	where, args := buildFilter(filter)

	var total int
	if err := r.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	column, ok := orders.SortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
SELECT %s
FROM orders%s
ORDER BY %s %s, id ASC
LIMIT $%d OFFSET $%d`, orderColumns, where, column, direction, len(args)+1, len(args)+2)
	rows, err := r.reader.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []orders.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		if order != nil {
			result = append(result, *order)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// ChangeStatus moves the order from -> to guarded by the stored status.
func (r *OrderRepository) ChangeStatus(ctx context.Context, id string, from, to orders.Status, entry orders.HistoryEntry, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("order repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE orders
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2`, id, string(from), string(to), entry.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := expectOne(res); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertHistory(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpdateDetails applies details while the status is one of allowed.
func (r *OrderRepository) UpdateDetails(ctx context.Context, id string, allowed []orders.Status, details orders.Details, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("order repo: nil db")
	}
	statuses := make([]string, 0, len(allowed))
	for _, status := range allowed {
		statuses = append(statuses, string(status))
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE orders
SET shipping_address = COALESCE($2, shipping_address),
	shipping_city = COALESCE($3, shipping_city),
	shipping_postal_code = COALESCE($4, shipping_postal_code),
	shipping_country = COALESCE($5, shipping_country),
	shipping_method = COALESCE($6, shipping_method),
	payment_method = COALESCE($7, payment_method),
	notes = COALESCE($8, notes),
	updated_at = $9
WHERE id = $1 AND status = ANY($10)`,
		id, nullString(details.ShippingAddress), nullString(details.ShippingCity), nullString(details.ShippingPostalCode),
		nullString(details.ShippingCountry), nullString(details.ShippingMethod), nullString(details.PaymentMethod),
		nullString(details.Notes), time.Now().UTC(), statuses,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := expectOne(res); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Delete removes a new order with its items and history.
func (r *OrderRepository) Delete(ctx context.Context, id string, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("order repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return orders.ErrOrderNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if orders.Status(status) != orders.StatusNew {
		_ = tx.Rollback()
		return orders.ErrStatusConflict
	}
	for _, stmt := range []string{
		`DELETE FROM order_status_history WHERE order_id = $1`,
		`DELETE FROM order_items WHERE order_id = $1`,
		`DELETE FROM orders WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// History returns the status history of an order, oldest first.
func (r *OrderRepository) History(ctx context.Context, id string) ([]orders.HistoryEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("order repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, order_id, status, comment, changed_by, created_at
FROM order_status_history
WHERE order_id = $1
ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []orders.HistoryEntry
	for rows.Next() {
		var (
			entry  orders.HistoryEntry
			status string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &status, &entry.Comment, &entry.ChangedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Status = orders.Status(status)
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]orders.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, order_id, product_id, quantity, unit_price, total_price
FROM order_items
WHERE order_id = $1
ORDER BY product_id ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []orders.Item
	for rows.Next() {
		var item orders.Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

const orderColumns = `id, order_number, customer_id, status, total_amount,
	shipping_address, shipping_city, shipping_postal_code, shipping_country,
	shipping_method, payment_method, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*orders.Order, error) {
	var (
		order  orders.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &status, &order.TotalAmount,
		&order.ShippingAddress, &order.ShippingCity, &order.ShippingPostalCode, &order.ShippingCountry,
		&order.ShippingMethod, &order.PaymentMethod, &order.Notes, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	order.Status = orders.Status(status)
	return &order, nil
}

func insertHistory(ctx context.Context, exec database.Execer, entry orders.HistoryEntry) error {
	_, err := exec.ExecContext(ctx, `
INSERT INTO order_status_history (id, order_id, status, comment, changed_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.ID, entry.OrderID, string(entry.Status), entry.Comment, entry.ChangedBy, entry.CreatedAt)
	return err
}

func buildFilter(filter orders.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func expectOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return orders.ErrStatusConflict
	}
	return nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
