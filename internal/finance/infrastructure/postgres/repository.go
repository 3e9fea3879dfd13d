package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp-core/internal/eventing"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/database"
)

const maxNumberAttempts = 5

// Repository serves finance reads and the writes that never touch a
// balance. Lists go through the reader.
type Repository struct {
	db        *sql.DB
	reader    database.Queryer
	publisher *eventing.Publisher
}

// NewRepository constructs a repository. A nil reader reads from db.
func NewRepository(db *sql.DB, reader database.Queryer, publisher *eventing.Publisher) *Repository {
	if reader == nil && db != nil {
		reader = db
	}
	return &Repository{db: db, reader: reader, publisher: publisher}
}

func (r *Repository) GetAccount(ctx context.Context, id string) (*finance.Account, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("finance repo: nil db")
	}
	return scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM finance_accounts WHERE id = $1`, id))
}

func (r *Repository) ListAccounts(ctx context.Context, filter finance.AccountFilter) ([]finance.Account, int, error) {
	if r == nil || r.reader == nil {
		return nil, 0, errors.New("finance repo: nil db")
	}
	b := newFilter()
	if filter.Type != "" {
		b.add("type = $%d", string(filter.Type))
	}
	if filter.Currency != "" {
		b.add("currency = $%d", strings.ToUpper(filter.Currency))
	}
	if filter.Active != nil {
		b.add("is_active = $%d", *filter.Active)
	}
	where, args := b.build()
	var total int
	if err := r.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM finance_accounts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`
SELECT %s
FROM finance_accounts%s
ORDER BY name ASC, id ASC
LIMIT $%d OFFSET $%d`, accountColumns, where, len(args)+1, len(args)+2)
	rows, err := r.reader.QueryContext(ctx, query, append(args, limitOrDefault(filter.Limit), filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	accounts, err := collectAccounts(rows)
	return accounts, total, err
}

func (r *Repository) UpdateAccount(ctx context.Context, id string, details finance.AccountDetails, at time.Time) (*finance.Account, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("finance repo: nil db")
	}
	var name *string
	if details.Name != nil {
		trimmed := strings.TrimSpace(*details.Name)
		name = &trimmed
	}
	return scanAccount(r.db.QueryRowContext(ctx, `
UPDATE finance_accounts
SET name = COALESCE($2, name),
	description = COALESCE($3, description),
	is_active = COALESCE($4, is_active),
	updated_at = $5
WHERE id = $1
RETURNING `+accountColumns, id, name, details.Description, details.IsActive, at))
}

func (r *Repository) DeleteAccount(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("finance repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM finance_accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return finance.ErrAccountNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	var used bool
	if err := tx.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM finance_postings WHERE account_id = $1 OR counterparty_account_id = $1)`, id).Scan(&used); err != nil {
		_ = tx.Rollback()
		return err
	}
	if used {
		_ = tx.Rollback()
		return finance.ErrAccountHasPostings
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM finance_accounts WHERE id = $1`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) ListCategories(ctx context.Context, kind finance.PostingType) ([]finance.Category, error) {
	if r == nil || r.reader == nil {
		return nil, errors.New("finance repo: nil db")
	}
	rows, err := r.reader.QueryContext(ctx, `
SELECT id, name, type, created_at
FROM finance_categories
WHERE $1 = '' OR type = $1
ORDER BY type ASC, name ASC`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []finance.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *Repository) GetCategory(ctx context.Context, id string) (*finance.Category, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("finance repo: nil db")
	}
	return scanCategory(r.db.QueryRowContext(ctx, `SELECT id, name, type, created_at FROM finance_categories WHERE id = $1`, id))
}

// EnsureCategory inserts the category unless (name, type) exists and
// returns the stored row either way.
func (r *Repository) EnsureCategory(ctx context.Context, name string, kind finance.PostingType) (*finance.Category, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("finance repo: nil db")
	}
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO finance_categories (id, name, type, created_at)
VALUES (gen_random_uuid()::text, $1, $2, NOW())
ON CONFLICT (name, type) DO NOTHING`, name, string(kind)); err != nil {
		return nil, err
	}
	category, err := scanCategory(r.db.QueryRowContext(ctx, `
SELECT id, name, type, created_at FROM finance_categories WHERE name = $1 AND type = $2`, name, string(kind)))
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, finance.ErrCategoryNotFound
	}
	return category, nil
}

func (r *Repository) CreateCategory(ctx context.Context, c finance.Category) error {
	if r == nil || r.db == nil {
		return errors.New("finance repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO finance_categories (id, name, type, created_at) VALUES ($1,$2,$3,$4)`,
		c.ID, c.Name, string(c.Type), c.CreatedAt)
	if database.IsUniqueViolation(err) {
		return finance.ErrCategoryExists
	}
	return err
}

func scanCategory(row rowScanner) (*finance.Category, error) {
	var (
		c    finance.Category
		kind string
	)
	if err := row.Scan(&c.ID, &c.Name, &kind, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Type = finance.PostingType(kind)
	return &c, nil
}

func (r *Repository) GetPosting(ctx context.Context, id string) (*finance.Posting, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("finance repo: nil db")
	}
	return scanPosting(r.db.QueryRowContext(ctx, `SELECT `+postingColumns+` FROM finance_postings WHERE id = $1`, id))
}

func (r *Repository) ListPostings(ctx context.Context, filter finance.PostingFilter) ([]finance.Posting, int, error) {
	if r == nil || r.reader == nil {
		return nil, 0, errors.New("finance repo: nil db")
	}
	b := newFilter()
	if filter.Type != "" {
		b.add("type = $%d", string(filter.Type))
	}
	if filter.CategoryID != "" {
		b.add("category_id = $%d", filter.CategoryID)
	}
	if filter.AccountID != "" {
		b.add("account_id = $%d", filter.AccountID)
	}
	if !filter.From.IsZero() {
		b.add("transaction_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		b.add("transaction_date <= $%d", filter.To)
	}
	if filter.MinAmount != nil {
		b.add("amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		b.add("amount <= $%d", *filter.MaxAmount)
	}
	where, args := b.build()
	var total int
	if err := r.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM finance_postings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`
SELECT %s
FROM finance_postings%s
ORDER BY transaction_date DESC, created_at DESC, id DESC
LIMIT $%d OFFSET $%d`, postingColumns, where, len(args)+1, len(args)+2)
	rows, err := r.reader.QueryContext(ctx, query, append(args, limitOrDefault(filter.Limit), filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	postings, err := collectPostings(rows)
	return postings, total, err
}

func (r *Repository) PostingsBetween(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, []finance.Posting, error) {
	if r == nil || r.reader == nil {
		return decimal.Zero, nil, errors.New("finance repo: nil db")
	}
	opening := decimal.Zero
	if !from.IsZero() {
		if err := r.reader.QueryRowContext(ctx, `
SELECT COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE -amount END), 0)
FROM finance_postings
WHERE account_id = $1 AND transaction_date < $2`, accountID, from).Scan(&opening); err != nil {
			return decimal.Zero, nil, err
		}
	}
	rows, err := r.reader.QueryContext(ctx, `
SELECT `+postingColumns+`
FROM finance_postings
WHERE account_id = $1 AND transaction_date >= $2 AND transaction_date < $3
ORDER BY transaction_date ASC, created_at ASC, id ASC`, accountID, from, to)
	if err != nil {
		return decimal.Zero, nil, err
	}
	postings, err := collectPostings(rows)
	return opening, postings, err
}

// Balances compares each stored balance with the sum of its postings.
func (r *Repository) Balances(ctx context.Context) ([]finance.AccountBalance, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("finance repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT a.id, a.name, a.currency, a.balance,
	COALESCE(SUM(CASE WHEN p.type = 'income' THEN p.amount ELSE -p.amount END), 0),
	COUNT(p.id)
FROM finance_accounts a
LEFT JOIN finance_postings p ON p.account_id = a.id
GROUP BY a.id, a.name, a.currency, a.balance
ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []finance.AccountBalance
	for rows.Next() {
		var b finance.AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Name, &b.Currency, &b.Stored, &b.Replayed, &b.Postings); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateInvoice stores the invoice with its items. Generated numbers are
// retried when a concurrent insert took the same sequence.
func (r *Repository) CreateInvoice(ctx context.Context, invoice *finance.Invoice, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("finance repo: nil db")
	}
	generated := invoice.Number == ""
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		err := r.createInvoice(ctx, invoice, generated, events)
		if !database.IsUniqueViolation(err) {
			return err
		}
		if !generated {
			return finance.ErrInvoiceNumberTaken
		}
	}
	return finance.ErrInvoiceNumberTaken
}

func (r *Repository) createInvoice(ctx context.Context, inv *finance.Invoice, generated bool, events []eventing.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if generated {
		number, err := nextInvoiceNumber(ctx, tx, inv.IssueDate)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		inv.Number = number
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO invoices (id, invoice_number, customer_id, issue_date, due_date, currency, notes, status,
	subtotal, tax_amount, discount_amount, total_amount, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		inv.ID, inv.Number, inv.CustomerID, inv.IssueDate, nullTime(inv.DueDate), inv.Currency, inv.Notes, string(inv.Status),
		inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertItems(ctx, tx, inv.ID, inv.Items); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, event := range events {
		if numbered, ok := event.(finance.NumberedEvent); ok {
			numbered.AssignInvoiceNumber(inv.Number)
		}
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nextInvoiceNumber(ctx context.Context, q database.Queryer, issued time.Time) (string, error) {
	prefix := finance.InvoiceNumberPrefix(issued)
	var last string
	err := q.QueryRowContext(ctx, `
SELECT invoice_number
FROM invoices
WHERE invoice_number LIKE $1
ORDER BY invoice_number DESC
LIMIT 1`, prefix+"%").Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	seq, _ := strconv.Atoi(strings.TrimPrefix(last, prefix))
	return finance.FormatInvoiceNumber(issued, seq+1), nil
}

func (r *Repository) GetInvoice(ctx context.Context, id string) (*finance.Invoice, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("finance repo: nil db")
	}
	invoice, err := scanInvoice(r.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil || invoice == nil {
		return invoice, err
	}
	if invoice.Items, err = loadItems(ctx, r.db, id); err != nil {
		return nil, err
	}
	if invoice.Payments, err = loadPayments(ctx, r.db, id); err != nil {
		return nil, err
	}
	return invoice, nil
}

// ListInvoices filters by effective status, so overdue matches sent and
// partial invoices past their due date.
func (r *Repository) ListInvoices(ctx context.Context, filter finance.InvoiceFilter) ([]finance.Invoice, int, error) {
	if r == nil || r.reader == nil {
		return nil, 0, errors.New("finance repo: nil db")
	}
	b := newFilter()
	switch filter.Status {
	case "":
	case finance.InvoiceOverdue:
		b.raw("status IN ('sent','partial') AND due_date IS NOT NULL AND due_date < CURRENT_DATE")
	case finance.InvoiceSent, finance.InvoicePartial:
		b.add("status = $%d AND (due_date IS NULL OR due_date >= CURRENT_DATE)", string(filter.Status))
	default:
		b.add("status = $%d", string(filter.Status))
	}
	if filter.CustomerID != "" {
		b.add("customer_id = $%d", filter.CustomerID)
	}
	if !filter.From.IsZero() {
		b.add("issue_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		b.add("issue_date <= $%d", filter.To)
	}
	where, args := b.build()
	var total int
	if err := r.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`
SELECT %s
FROM invoices%s
ORDER BY issue_date DESC, invoice_number DESC
LIMIT $%d OFFSET $%d`, invoiceColumns, where, len(args)+1, len(args)+2)
	rows, err := r.reader.QueryContext(ctx, query, append(args, limitOrDefault(filter.Limit), filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	var out []finance.Invoice
	func() {
		defer rows.Close()
		for rows.Next() {
			var inv *finance.Invoice
			if inv, err = scanInvoice(rows); err != nil {
				return
			}
			out = append(out, *inv)
		}
		err = rows.Err()
	}()
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		if out[i].Payments, err = loadPayments(ctx, r.reader, out[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// ReplaceInvoice rewrites header and items while the invoice is unpaid and
// in one of the allowed statuses.
func (r *Repository) ReplaceInvoice(ctx context.Context, inv *finance.Invoice, allowed []finance.InvoiceStatus, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("finance repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := lockUnpaid(ctx, tx, inv.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	statuses := make([]string, 0, len(allowed))
	for _, s := range allowed {
		statuses = append(statuses, string(s))
	}
	res, err := tx.ExecContext(ctx, `
UPDATE invoices
SET customer_id = $2, issue_date = $3, due_date = $4, notes = $5,
	subtotal = $6, tax_amount = $7, discount_amount = $8, total_amount = $9, updated_at = $10
WHERE id = $1 AND status = ANY($11)`,
		inv.ID, inv.CustomerID, inv.IssueDate, nullTime(inv.DueDate), inv.Notes,
		inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount, inv.UpdatedAt, statuses)
	if err := expectOne(res, err)(finance.ErrInvoiceClosed); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertItems(ctx, tx, inv.ID, inv.Items); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) DeleteInvoice(ctx context.Context, id string, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("finance repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := lockUnpaid(ctx, tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1 AND status <> $2`, id, string(finance.InvoicePaid))
	if err := expectOne(res, err)(finance.ErrInvoiceClosed); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) SetInvoiceStatus(ctx context.Context, id string, from, to finance.InvoiceStatus, at time.Time, events ...eventing.Event) error {
	if r == nil || r.db == nil {
		return errors.New("finance repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE invoices SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`, id, string(from), string(to), at)
	if err := expectOne(res, err)(finance.ErrInvalidInvoiceStatus); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.publisher.PublishTx(ctx, tx, events...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) Payments(ctx context.Context, invoiceID string) ([]finance.Payment, error) {
	if r == nil || r.reader == nil {
		return nil, errors.New("finance repo: nil db")
	}
	return loadPayments(ctx, r.reader, invoiceID)
}

// lockUnpaid locks the invoice row and fails when it is missing or has
// payments.
func lockUnpaid(ctx context.Context, tx *sql.Tx, id string) error {
	var payments int
	err := tx.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM invoice_payments WHERE invoice_id = i.id)
FROM invoices i
WHERE i.id = $1
FOR UPDATE`, id).Scan(&payments)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.ErrInvoiceNotFound
	}
	if err != nil {
		return err
	}
	if payments > 0 {
		return finance.ErrInvoiceHasPayments
	}
	return nil
}

type filterBuilder struct {
	clauses []string
	args    []any
}

func newFilter() *filterBuilder { return &filterBuilder{} }

func (b *filterBuilder) add(clause string, value any) {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf(clause, len(b.args)))
}

func (b *filterBuilder) raw(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *filterBuilder) build() (string, []any) {
	if len(b.clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(b.clauses, " AND "), b.args
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
