package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"erp-core/internal/auth"
	finevents "erp-core/internal/finance/application/events"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/observability/metrics"
	"erp-core/internal/platform/logging"
)

// TransferRequest moves Amount from SourceID to TargetID.
type TransferRequest struct {
	SourceID    string
	TargetID    string
	Amount      decimal.Decimal
	Description string
}

// TransferResult holds both postings and both refreshed accounts.
type TransferResult struct {
	Debit  finance.Posting
	Credit finance.Posting
	Source finance.Account
	Target finance.Account
}

// TransferOrchestrator builds the matched expense and income postings of a
// transfer inside one local transaction.
type TransferOrchestrator struct {
	mutator    *BalanceMutator
	categories SystemCategories
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewTransferOrchestrator constructs an orchestrator.
func NewTransferOrchestrator(mutator *BalanceMutator, categories SystemCategories, logger *zap.Logger) (*TransferOrchestrator, error) {
	if mutator == nil {
		return nil, errors.New("transfer orchestrator: nil mutator")
	}
	if categories.TransferOut == "" || categories.TransferIn == "" {
		return nil, errors.New("transfer orchestrator: transfer categories not bootstrapped")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferOrchestrator{mutator: mutator, categories: categories, logger: logger, tracer: otel.Tracer("erp-core/finance")}, nil
}

// Transfer locks both accounts in id order, checks funds under the lock and
// writes both postings and both balances, or nothing.
func (o *TransferOrchestrator) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveTransfer(result, time.Since(start))
	}()
	ctx, span := o.tracer.Start(ctx, "ledger.transfer", trace.WithAttributes(
		attribute.String("account.source", req.SourceID),
		attribute.String("account.target", req.TargetID),
	))
	defer span.End()

	amount := finance.Money(req.Amount)
	switch {
	case !amount.IsPositive():
		result = metrics.ResultRejected
		return nil, mapError(finance.ErrInvalidAmount)
	case req.SourceID == "" || req.TargetID == "":
		result = metrics.ResultRejected
		return nil, mapError(finance.ErrAccountNotFound)
	case req.SourceID == req.TargetID:
		result = metrics.ResultRejected
		return nil, mapError(finance.ErrSameAccount)
	}

	var out TransferResult
	actor := auth.ActorFromContext(ctx)
	err := o.mutator.Run(ctx, func(ctx context.Context, tx *LedgerTx) error {
		locked, err := tx.LockAccounts(ctx, req.SourceID, req.TargetID)
		if err != nil {
			return err
		}
		source, ok := locked[req.SourceID]
		if !ok {
			return fmt.Errorf("source %s: %w", req.SourceID, finance.ErrAccountNotFound)
		}
		target, ok := locked[req.TargetID]
		if !ok {
			return fmt.Errorf("target %s: %w", req.TargetID, finance.ErrAccountNotFound)
		}
		if source.Currency != target.Currency {
			return finance.ErrCurrencyMismatch
		}
		if source.Balance.LessThan(amount) {
			return finance.ErrInsufficientFunds
		}

		debitDesc, creditDesc := req.Description, req.Description
		if debitDesc == "" {
			debitDesc = "Transfer to " + target.Name
			creditDesc = "Transfer from " + source.Name
		}
		out.Debit = finance.Posting{
			ID:                    uuid.NewString(),
			Type:                  finance.Expense,
			Amount:                amount,
			CategoryID:            o.categories.TransferOut,
			AccountID:             source.ID,
			CounterpartyAccountID: target.ID,
			Description:           debitDesc,
			ReferenceID:           target.ID,
			ReferenceType:         finance.RefAccount,
			CreatedBy:             actor,
		}
		out.Credit = finance.Posting{
			ID:                    uuid.NewString(),
			Type:                  finance.Income,
			Amount:                amount,
			CategoryID:            o.categories.TransferIn,
			AccountID:             target.ID,
			CounterpartyAccountID: source.ID,
			Description:           creditDesc,
			ReferenceID:           source.ID,
			ReferenceType:         finance.RefAccount,
			CreatedBy:             actor,
		}
		if source.Balance, err = tx.Post(ctx, &out.Debit, RequireFunds()); err != nil {
			return err
		}
		if target.Balance, err = tx.Post(ctx, &out.Credit); err != nil {
			return err
		}
		source.UpdatedAt, target.UpdatedAt = tx.Now(), tx.Now()
		out.Source, out.Target = source, target
		return tx.Publish(ctx, finevents.TransferCompleted{
			SourceAccountID: source.ID,
			TargetAccountID: target.ID,
			DebitPostingID:  out.Debit.ID,
			CreditPostingID: out.Credit.ID,
			Amount:          amount,
			Currency:        source.Currency,
			OccurredAt:      tx.Now(),
		})
	})
	if err != nil {
		result = metrics.ResultRejected
		if !errors.Is(err, finance.ErrInsufficientFunds) && !errors.Is(err, finance.ErrAccountNotFound) &&
			!errors.Is(err, finance.ErrCurrencyMismatch) && !errors.Is(err, finance.ErrAccountInactive) {
			result = metrics.ResultError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, mapError(err)
	}
	logging.WithTrace(ctx, o.logger).Info("transfer completed",
		zap.String("source_account_id", out.Source.ID),
		zap.String("target_account_id", out.Target.ID),
		zap.String("amount", amount.StringFixed(2)),
	)
	return &out, nil
}
