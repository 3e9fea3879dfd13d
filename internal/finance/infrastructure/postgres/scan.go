package postgres

import (
	"context"
	"database/sql"
	"errors"

	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/database"
)

const (
	accountColumns = `id, name, type, currency, initial_balance, balance, is_active, description, created_at, updated_at`
	postingColumns = `id, type, amount, currency, category_id, account_id, counterparty_account_id, description,
	transaction_date, reference_id, reference_type, created_by, created_at, updated_at`
	invoiceColumns = `id, invoice_number, customer_id, issue_date, due_date, currency, notes, status,
	subtotal, tax_amount, discount_amount, total_amount, cancellation_reason, cancelled_by, cancelled_at,
	created_at, updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*finance.Account, error) {
	var (
		a    finance.Account
		kind string
	)
	err := row.Scan(&a.ID, &a.Name, &kind, &a.Currency, &a.InitialBalance, &a.Balance, &a.IsActive, &a.Description, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Type = finance.AccountType(kind)
	return &a, nil
}

func collectAccounts(rows *sql.Rows) ([]finance.Account, error) {
	defer rows.Close()
	var out []finance.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanPosting(row rowScanner) (*finance.Posting, error) {
	var (
		p                         finance.Posting
		kind, refType             string
		counterparty, referenceID sql.NullString
	)
	err := row.Scan(&p.ID, &kind, &p.Amount, &p.Currency, &p.CategoryID, &p.AccountID, &counterparty, &p.Description,
		&p.TransactionDate, &referenceID, &refType, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Type = finance.PostingType(kind)
	p.ReferenceType = finance.ReferenceType(refType)
	p.CounterpartyAccountID = counterparty.String
	p.ReferenceID = referenceID.String
	return &p, nil
}

func collectPostings(rows *sql.Rows) ([]finance.Posting, error) {
	defer rows.Close()
	var out []finance.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanInvoice(row rowScanner) (*finance.Invoice, error) {
	var (
		inv                 finance.Invoice
		status              string
		due, cancelledAt    sql.NullTime
		reason, cancelledBy sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.IssueDate, &due, &inv.Currency, &inv.Notes, &status,
		&inv.Subtotal, &inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount, &reason, &cancelledBy, &cancelledAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	inv.Status = finance.InvoiceStatus(status)
	if due.Valid {
		inv.DueDate = due.Time
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time
		inv.CancelledAt = &at
	}
	inv.CancellationReason = reason.String
	inv.CancelledBy = cancelledBy.String
	return &inv, nil
}

func loadItems(ctx context.Context, q database.Queryer, invoiceID string) ([]finance.InvoiceItem, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, invoice_id, description, quantity, unit_price, tax_rate, discount, subtotal, tax_amount, discount_amount, total
FROM invoice_items
WHERE invoice_id = $1
ORDER BY position ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []finance.InvoiceItem
	for rows.Next() {
		var it finance.InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.TaxRate, &it.Discount,
			&it.Subtotal, &it.TaxAmount, &it.DiscountAmount, &it.Total); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func loadPayments(ctx context.Context, q database.Queryer, invoiceID string) ([]finance.Payment, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, invoice_id, amount, payment_method, payment_date, reference, notes, transaction_id, created_by, created_at
FROM invoice_payments
WHERE invoice_id = $1
ORDER BY created_at ASC, id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []finance.Payment
	for rows.Next() {
		var (
			p           finance.Payment
			method      string
			transaction sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &method, &p.PaymentDate, &p.Reference, &p.Notes,
			&transaction, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Method = finance.PaymentMethod(method)
		p.TransactionID = transaction.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertItems(ctx context.Context, exec database.Execer, invoiceID string, items []finance.InvoiceItem) error {
	for i, it := range items {
		if _, err := exec.ExecContext(ctx, `
INSERT INTO invoice_items (id, invoice_id, position, description, quantity, unit_price, tax_rate, discount,
	subtotal, tax_amount, discount_amount, total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			it.ID, invoiceID, i, it.Description, it.Quantity, it.UnitPrice, it.TaxRate, it.Discount,
			it.Subtotal, it.TaxAmount, it.DiscountAmount, it.Total); err != nil {
			return err
		}
	}
	return nil
}
