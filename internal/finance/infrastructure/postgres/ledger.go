package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erp-core/internal/eventing"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/database"
)

const maxTxAttempts = 3

// Ledger runs balance transactions. Account rows are locked in id order and
// debits are applied with a conditional update, so READ COMMITTED is enough;
// deadlocks and serialization failures are retried.
type Ledger struct {
	db        *sql.DB
	publisher *eventing.Publisher
	logger    *zap.Logger
}

// NewLedger constructs a ledger.
func NewLedger(db *sql.DB, publisher *eventing.Publisher, logger *zap.Logger) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger: nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, publisher: publisher, logger: logger}, nil
}

// WithinTx runs fn in one transaction, retrying it from scratch on
// serialization failures.
func (l *Ledger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx finance.BalanceTx) error) error {
	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(20*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	)
	b = backoff.WithContext(backoff.WithMaxRetries(b, maxTxAttempts-1), ctx)
	return backoff.Retry(func() error {
		err := l.run(ctx, fn)
		if err == nil {
			return nil
		}
		if database.IsSerializationFailure(err) {
			l.logger.Warn("ledger transaction retried", zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func (l *Ledger) run(ctx context.Context, fn func(ctx context.Context, tx finance.BalanceTx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, &ledgerTx{tx: tx, publisher: l.publisher}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type ledgerTx struct {
	tx        *sql.Tx
	publisher *eventing.Publisher
}

func (t *ledgerTx) LockAccounts(ctx context.Context, ids ...string) (map[string]finance.Account, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT `+accountColumns+`
FROM finance_accounts
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]finance.Account, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a
	}
	return out, nil
}

func (t *ledgerTx) InsertAccount(ctx context.Context, a finance.Account) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO finance_accounts (id, name, type, currency, initial_balance, balance, is_active, description, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.Name, string(a.Type), a.Currency, a.InitialBalance, a.Balance, a.IsActive, a.Description, a.CreatedAt, a.UpdatedAt)
	return err
}

func (t *ledgerTx) LockPosting(ctx context.Context, id string) (*finance.Posting, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+postingColumns+`
FROM finance_postings
WHERE id = $1
FOR UPDATE`, id)
	return scanPosting(row)
}

func (t *ledgerTx) LockInvoice(ctx context.Context, id string) (*finance.Invoice, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE id = $1
FOR UPDATE`, id)
	invoice, err := scanInvoice(row)
	if err != nil || invoice == nil {
		return invoice, err
	}
	if invoice.Items, err = loadItems(ctx, t.tx, id); err != nil {
		return nil, err
	}
	if invoice.Payments, err = loadPayments(ctx, t.tx, id); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (t *ledgerTx) InsertPayment(ctx context.Context, p finance.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO invoice_payments (id, invoice_id, amount, payment_method, payment_date, reference, notes, transaction_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.InvoiceID, p.Amount, string(p.Method), p.PaymentDate, p.Reference, p.Notes, nullString(p.TransactionID), p.CreatedBy, p.CreatedAt)
	return err
}

func (t *ledgerTx) UpdateInvoiceStatus(ctx context.Context, id string, status finance.InvoiceStatus, at time.Time) error {
	return expectOne(t.tx.ExecContext(ctx, `
UPDATE invoices SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at))(finance.ErrInvoiceNotFound)
}

func (t *ledgerTx) CancelInvoice(ctx context.Context, id, reason, by string, at time.Time) error {
	return expectOne(t.tx.ExecContext(ctx, `
UPDATE invoices
SET status = $2, cancellation_reason = $3, cancelled_by = $4, cancelled_at = $5, updated_at = $5
WHERE id = $1`, id, string(finance.InvoiceCancelled), reason, by, at))(finance.ErrInvoiceNotFound)
}

func (t *ledgerTx) Publish(ctx context.Context, events ...eventing.Event) error {
	return t.publisher.PublishTx(ctx, t.tx, events...)
}

func (t *ledgerTx) InsertPosting(ctx context.Context, p finance.Posting) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO finance_postings (id, type, amount, currency, category_id, account_id, counterparty_account_id,
	description, transaction_date, reference_id, reference_type, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, string(p.Type), p.Amount, p.Currency, p.CategoryID, p.AccountID, nullString(p.CounterpartyAccountID),
		p.Description, p.TransactionDate, nullString(p.ReferenceID), string(p.ReferenceType), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *ledgerTx) UpdatePosting(ctx context.Context, p finance.Posting) error {
	return expectOne(t.tx.ExecContext(ctx, `
UPDATE finance_postings
SET type = $2, amount = $3, currency = $4, category_id = $5, account_id = $6, description = $7,
	transaction_date = $8, reference_id = $9, reference_type = $10, updated_at = $11
WHERE id = $1`,
		p.ID, string(p.Type), p.Amount, p.Currency, p.CategoryID, p.AccountID, p.Description,
		p.TransactionDate, nullString(p.ReferenceID), string(p.ReferenceType), p.UpdatedAt))(finance.ErrPostingNotFound)
}

func (t *ledgerTx) DeletePosting(ctx context.Context, id string) error {
	return expectOne(t.tx.ExecContext(ctx, `DELETE FROM finance_postings WHERE id = $1`, id))(finance.ErrPostingNotFound)
}

func (t *ledgerTx) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal, requireCovered bool) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
UPDATE finance_accounts
SET balance = balance + $2, updated_at = NOW()
WHERE id = $1 AND (NOT $3 OR balance + $2 >= 0)
RETURNING balance`, accountID, delta, requireCovered).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM finance_accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return decimal.Zero, err
		}
		if !exists {
			return decimal.Zero, finance.ErrAccountNotFound
		}
		return decimal.Zero, finance.ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func expectOne(res sql.Result, err error) func(missing error) error {
	return func(missing error) error {
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return missing
		}
		return nil
	}
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
