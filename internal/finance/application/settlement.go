package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erp-core/internal/auth"
	finevents "erp-core/internal/finance/application/events"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/observability/metrics"
	"erp-core/internal/platform/logging"
)

// PaymentRequest applies money to an invoice. With AccountID set, an
// income posting is recorded on that account and linked to the payment.
type PaymentRequest struct {
	Amount      decimal.Decimal
	Method      string
	PaymentDate time.Time
	Reference   string
	Notes       string
	AccountID   string
}

// SettlementResult is the stored payment and the invoice after it.
type SettlementResult struct {
	Payment finance.Payment
	Invoice finance.Invoice
	Posting *finance.Posting
}

// SettlementAllocator applies payments and cancellations to invoices. The
// invoice row is locked for the whole decision so concurrent payments never
// exceed the total.
type SettlementAllocator struct {
	mutator    *BalanceMutator
	categories SystemCategories
	logger     *zap.Logger
}

// NewSettlementAllocator constructs an allocator.
func NewSettlementAllocator(mutator *BalanceMutator, categories SystemCategories, logger *zap.Logger) (*SettlementAllocator, error) {
	if mutator == nil {
		return nil, errors.New("settlement allocator: nil mutator")
	}
	if categories.InvoicePayment == "" {
		return nil, errors.New("settlement allocator: invoice payment category not bootstrapped")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementAllocator{mutator: mutator, categories: categories, logger: logger}, nil
}

// AddPayment records a payment of at most the remaining balance.
func (a *SettlementAllocator) AddPayment(ctx context.Context, invoiceID string, req PaymentRequest) (*SettlementResult, error) {
	if !finance.Money(req.Amount).IsPositive() {
		metrics.IncInvoicePayment(metrics.ResultRejected)
		return nil, mapError(finance.ErrInvalidAmount)
	}
	return a.settle(ctx, invoiceID, func(*finance.Invoice) (PaymentRequest, error) {
		return req, nil
	})
}

// MarkPaid records a payment of exactly the remaining balance.
func (a *SettlementAllocator) MarkPaid(ctx context.Context, invoiceID string, req PaymentRequest) (*SettlementResult, error) {
	return a.settle(ctx, invoiceID, func(invoice *finance.Invoice) (PaymentRequest, error) {
		req.Amount = invoice.BalanceDue()
		if strings.TrimSpace(req.Notes) == "" {
			req.Notes = "Full payment"
		}
		return req, nil
	})
}

func (a *SettlementAllocator) settle(ctx context.Context, invoiceID string, prepare func(*finance.Invoice) (PaymentRequest, error)) (*SettlementResult, error) {
	var out SettlementResult
	actor := auth.ActorFromContext(ctx)
	err := a.mutator.Run(ctx, func(ctx context.Context, tx *LedgerTx) error {
		invoice, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return finance.ErrInvoiceNotFound
		}
		if invoice.Closed() {
			return finance.ErrInvoiceClosed
		}
		req, err := prepare(invoice)
		if err != nil {
			return err
		}
		method, err := finance.ParsePaymentMethod(req.Method)
		if err != nil {
			return err
		}
		amount := finance.Money(req.Amount)
		if !amount.IsPositive() {
			return finance.ErrInvalidAmount
		}
		if amount.GreaterThan(invoice.BalanceDue()) {
			return finance.ErrPaymentExceeds
		}

		payment := finance.Payment{
			ID:          uuid.NewString(),
			InvoiceID:   invoice.ID,
			Amount:      amount,
			Method:      method,
			PaymentDate: req.PaymentDate,
			Reference:   req.Reference,
			Notes:       req.Notes,
			CreatedBy:   actor,
			CreatedAt:   tx.Now(),
		}
		if payment.PaymentDate.IsZero() {
			payment.PaymentDate = tx.Now()
		}
		if req.AccountID != "" {
			posting := &finance.Posting{
				ID:              uuid.NewString(),
				Type:            finance.Income,
				Amount:          amount,
				Currency:        invoice.Currency,
				CategoryID:      a.categories.InvoicePayment,
				AccountID:       req.AccountID,
				Description:     "Payment for invoice " + invoice.Number,
				TransactionDate: payment.PaymentDate,
				ReferenceID:     invoice.ID,
				ReferenceType:   finance.RefInvoice,
				CreatedBy:       actor,
			}
			if _, err := tx.Post(ctx, posting); err != nil {
				return err
			}
			payment.TransactionID = posting.ID
			out.Posting = posting
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		invoice.Payments = append(invoice.Payments, payment)
		status := finance.SettledStatus(invoice.Status, invoice.TotalPaid(), invoice.TotalAmount)
		if err := tx.UpdateInvoiceStatus(ctx, invoice.ID, status, tx.Now()); err != nil {
			return err
		}
		invoice.Status = status
		invoice.UpdatedAt = tx.Now()
		out.Payment, out.Invoice = payment, *invoice
		return tx.Publish(ctx, finevents.PaymentRecorded{
			InvoiceID:     invoice.ID,
			PaymentID:     payment.ID,
			Amount:        amount,
			TotalPaid:     invoice.TotalPaid(),
			Status:        string(status),
			TransactionID: payment.TransactionID,
			OccurredAt:    tx.Now(),
		})
	})
	if err != nil {
		metrics.IncInvoicePayment(paymentResult(err))
		return nil, mapError(err)
	}
	metrics.IncInvoicePayment(metrics.ResultSuccess)
	logging.WithTrace(ctx, a.logger).Info("invoice payment recorded",
		zap.String("invoice_id", out.Invoice.ID),
		zap.String("payment_id", out.Payment.ID),
		zap.String("amount", out.Payment.Amount.StringFixed(2)),
		zap.String("status", string(out.Invoice.Status)),
	)
	return &out, nil
}

// Cancel closes an invoice that has no payments.
func (a *SettlementAllocator) Cancel(ctx context.Context, invoiceID, reason string) (*finance.Invoice, error) {
	var out finance.Invoice
	actor := auth.ActorFromContext(ctx)
	err := a.mutator.Run(ctx, func(ctx context.Context, tx *LedgerTx) error {
		invoice, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return finance.ErrInvoiceNotFound
		}
		if invoice.Closed() {
			return finance.ErrInvoiceClosed
		}
		if len(invoice.Payments) > 0 {
			return finance.ErrInvoiceHasPayments
		}
		reason = strings.TrimSpace(reason)
		if err := tx.CancelInvoice(ctx, invoice.ID, reason, actor, tx.Now()); err != nil {
			return err
		}
		at := tx.Now()
		invoice.Status = finance.InvoiceCancelled
		invoice.CancellationReason = reason
		invoice.CancelledBy = actor
		invoice.CancelledAt = &at
		invoice.UpdatedAt = at
		out = *invoice
		return tx.Publish(ctx, finevents.InvoiceCancelled{
			InvoiceID:   invoice.ID,
			Reason:      reason,
			CancelledBy: actor,
			OccurredAt:  at,
		})
	})
	if err != nil {
		return nil, mapError(err)
	}
	logging.WithTrace(ctx, a.logger).Info("invoice cancelled", zap.String("invoice_id", out.ID), zap.String("cancelled_by", actor))
	return &out, nil
}

func paymentResult(err error) string {
	switch {
	case errors.Is(err, finance.ErrPaymentExceeds),
		errors.Is(err, finance.ErrInvoiceClosed),
		errors.Is(err, finance.ErrInvalidAmount),
		errors.Is(err, finance.ErrInvalidPaymentMethod),
		errors.Is(err, finance.ErrInvoiceNotFound),
		errors.Is(err, finance.ErrAccountNotFound),
		errors.Is(err, finance.ErrAccountInactive),
		errors.Is(err, finance.ErrCurrencyMismatch):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
