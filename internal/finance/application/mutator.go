package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	finevents "erp-core/internal/finance/application/events"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/observability/metrics"
)

// BalanceMutator is the only component that writes postings and account
// balances. Every posting write and its balance adjustment share one local
// transaction.
type BalanceMutator struct {
	ledger finance.Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewBalanceMutator constructs a mutator.
func NewBalanceMutator(ledger finance.Ledger, logger *zap.Logger) (*BalanceMutator, error) {
	if ledger == nil {
		return nil, errors.New("balance mutator: nil ledger")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceMutator{ledger: ledger, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// LedgerTx is the transaction handed to functions run by the mutator. It
// exposes the non-balance writes directly and balance changes only through
// Post, Unpost and Repost.
type LedgerTx struct {
	finance.RecordTx
	tx  finance.BalanceTx
	now time.Time
}

// Now is the timestamp shared by every write of the transaction.
func (t *LedgerTx) Now() time.Time { return t.now }

type postOptions struct {
	requireFunds bool
}

// PostOption tunes a single Post.
type PostOption func(*postOptions)

// RequireFunds rejects an expense that would make the balance negative.
// The check and the decrement are one conditional update.
func RequireFunds() PostOption {
	return func(o *postOptions) { o.requireFunds = true }
}

// Run executes fn inside one local transaction.
func (m *BalanceMutator) Run(ctx context.Context, fn func(ctx context.Context, tx *LedgerTx) error) error {
	return m.ledger.WithinTx(ctx, func(ctx context.Context, tx finance.BalanceTx) error {
		return fn(ctx, &LedgerTx{RecordTx: tx, tx: tx, now: m.now()})
	})
}

// Post records p in its own transaction and returns the stored posting and
// the new balance.
func (m *BalanceMutator) Post(ctx context.Context, p finance.Posting, opts ...PostOption) (*finance.Posting, decimal.Decimal, error) {
	var balance decimal.Decimal
	err := m.Run(ctx, func(ctx context.Context, tx *LedgerTx) error {
		var err error
		balance, err = tx.Post(ctx, &p, opts...)
		return err
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return &p, balance, nil
}

// Post inserts p and applies it to its account. Timestamps are filled when
// empty and the currency defaults to the account currency.
func (t *LedgerTx) Post(ctx context.Context, p *finance.Posting, opts ...PostOption) (decimal.Decimal, error) {
	var o postOptions
	for _, opt := range opts {
		opt(&o)
	}
	p.Amount = finance.Money(p.Amount)
	if err := p.Validate(); err != nil {
		return decimal.Zero, err
	}
	account, err := t.activeAccount(ctx, p.AccountID)
	if err != nil {
		return decimal.Zero, err
	}
	if p.Currency == "" {
		p.Currency = account.Currency
	}
	if p.Currency != account.Currency {
		return decimal.Zero, finance.ErrCurrencyMismatch
	}
	if p.TransactionDate.IsZero() {
		p.TransactionDate = t.now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now
	}
	p.UpdatedAt = t.now

	balance, err := t.tx.AdjustBalance(ctx, p.AccountID, p.Delta(), o.requireFunds && p.Type == finance.Expense)
	if err != nil {
		return decimal.Zero, err
	}
	if err := t.tx.InsertPosting(ctx, *p); err != nil {
		return decimal.Zero, err
	}
	metrics.IncLedgerPosting(string(p.Type), "post")
	return balance, t.Publish(ctx, postingEvent("created", *p, balance, t.now))
}

// Unpost deletes p and reverses its balance effect.
func (t *LedgerTx) Unpost(ctx context.Context, p finance.Posting) (decimal.Decimal, error) {
	if _, err := t.lockAccount(ctx, p.AccountID); err != nil {
		return decimal.Zero, err
	}
	if err := t.tx.DeletePosting(ctx, p.ID); err != nil {
		return decimal.Zero, err
	}
	balance, err := t.tx.AdjustBalance(ctx, p.AccountID, p.Delta().Neg(), false)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.IncLedgerPosting(string(p.Type), "unpost")
	return balance, t.Publish(ctx, postingEvent("deleted", p, balance, t.now))
}

// Repost replaces old with updated, reversing the old effect and applying
// the new one. The accounts may differ.
func (t *LedgerTx) Repost(ctx context.Context, old finance.Posting, updated *finance.Posting) (decimal.Decimal, error) {
	updated.ID = old.ID
	updated.CreatedAt = old.CreatedAt
	updated.CreatedBy = old.CreatedBy
	updated.UpdatedAt = t.now
	updated.Amount = finance.Money(updated.Amount)
	if err := updated.Validate(); err != nil {
		return decimal.Zero, err
	}
	locked, err := t.LockAccounts(ctx, old.AccountID, updated.AccountID)
	if err != nil {
		return decimal.Zero, err
	}
	target, ok := locked[updated.AccountID]
	if !ok {
		return decimal.Zero, finance.ErrAccountNotFound
	}
	if !target.IsActive {
		return decimal.Zero, finance.ErrAccountInactive
	}
	if updated.Currency == "" || updated.AccountID != old.AccountID {
		updated.Currency = target.Currency
	}
	if updated.Currency != target.Currency {
		return decimal.Zero, finance.ErrCurrencyMismatch
	}
	if updated.TransactionDate.IsZero() {
		updated.TransactionDate = old.TransactionDate
	}

	if _, err := t.tx.AdjustBalance(ctx, old.AccountID, old.Delta().Neg(), false); err != nil {
		return decimal.Zero, err
	}
	balance, err := t.tx.AdjustBalance(ctx, updated.AccountID, updated.Delta(), false)
	if err != nil {
		return decimal.Zero, err
	}
	if err := t.tx.UpdatePosting(ctx, *updated); err != nil {
		return decimal.Zero, err
	}
	metrics.IncLedgerPosting(string(updated.Type), "repost")
	return balance, t.Publish(ctx, postingEvent("updated", *updated, balance, t.now))
}

func (t *LedgerTx) activeAccount(ctx context.Context, id string) (finance.Account, error) {
	account, err := t.lockAccount(ctx, id)
	if err != nil {
		return finance.Account{}, err
	}
	if !account.IsActive {
		return finance.Account{}, finance.ErrAccountInactive
	}
	return account, nil
}

func (t *LedgerTx) lockAccount(ctx context.Context, id string) (finance.Account, error) {
	locked, err := t.LockAccounts(ctx, id)
	if err != nil {
		return finance.Account{}, err
	}
	account, ok := locked[id]
	if !ok {
		return finance.Account{}, finance.ErrAccountNotFound
	}
	return account, nil
}

func postingEvent(op string, p finance.Posting, balance decimal.Decimal, at time.Time) finevents.PostingRecorded {
	return finevents.PostingRecorded{
		Op:         op,
		PostingID:  p.ID,
		AccountID:  p.AccountID,
		Type:       string(p.Type),
		Amount:     p.Amount,
		Balance:    balance,
		OccurredAt: at,
	}
}
