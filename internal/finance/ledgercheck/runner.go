// Package ledgercheck runs the read-only ledger consistency check on a daily
// schedule inside the finance service and alerts when balances drift.
package ledgercheck

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	financeapp "erp-core/internal/finance/application"
	"erp-core/internal/observability/metrics"
)

// Verifier replays postings and reports drifted accounts.
type Verifier interface {
	Verify(ctx context.Context) ([]financeapp.Drift, int, error)
}

// Report is the outcome of one check.
type Report struct {
	CheckedAt time.Time
	Checked   int
	Drifts    []financeapp.Drift
	MaxDrift  decimal.Decimal
	Alerted   bool
}

// Runner executes checks. It never repairs balances.
type Runner struct {
	verifier  Verifier
	threshold decimal.Decimal
	notifier  Notifier
	tenantID  string
	logger    *zap.Logger
	now       func() time.Time
}

// NewRunner constructs a Runner. A nil notifier only logs and records
// metrics; drifts below threshold are reported but do not alert.
func NewRunner(verifier Verifier, threshold decimal.Decimal, notifier Notifier, tenantID string, logger *zap.Logger) (*Runner, error) {
	if verifier == nil {
		return nil, errors.New("ledger check: nil verifier")
	}
	if threshold.IsNegative() {
		return nil, errors.New("ledger check: negative threshold")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		verifier:  verifier,
		threshold: threshold,
		notifier:  notifier,
		tenantID:  tenantID,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run performs one check.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := r.now()
	drifts, checked, err := r.verifier.Verify(ctx)
	if err != nil {
		metrics.ObserveLedgerCheck(metrics.ResultError, r.now().Sub(started), 0, 0)
		r.logger.Error("ledger check failed", zap.Error(err))
		return nil, err
	}

	report := &Report{CheckedAt: started, Checked: checked, Drifts: drifts, MaxDrift: decimal.Zero}
	for _, d := range drifts {
		if abs := d.Difference.Abs(); abs.GreaterThan(report.MaxDrift) {
			report.MaxDrift = abs
		}
		r.logger.Warn("ledger drift",
			zap.String("account_id", d.AccountID),
			zap.String("stored", d.Stored.StringFixed(2)),
			zap.String("replayed", d.Replayed.StringFixed(2)),
			zap.String("difference", d.Difference.StringFixed(2)),
		)
	}
	maxDrift, _ := report.MaxDrift.Float64()
	metrics.ObserveLedgerCheck(metrics.ResultSuccess, r.now().Sub(started), len(drifts), maxDrift)

	if len(drifts) > 0 && report.MaxDrift.GreaterThanOrEqual(r.threshold) && r.notifier != nil {
		if err := r.notifier.Notify(ctx, r.alert(report)); err != nil {
			r.logger.Error("ledger drift alert failed", zap.Error(err))
		} else {
			report.Alerted = true
		}
	}
	r.logger.Info("ledger check done",
		zap.Int("checked", checked),
		zap.Int("drifted", len(drifts)),
		zap.Bool("alerted", report.Alerted),
	)
	return report, nil
}

func (r *Runner) alert(report *Report) Alert {
	alert := Alert{
		TenantID:  r.tenantID,
		CheckedAt: report.CheckedAt,
		Checked:   report.Checked,
		MaxDrift:  report.MaxDrift.StringFixed(2),
		Accounts:  make([]AlertAccount, 0, len(report.Drifts)),
	}
	for _, d := range report.Drifts {
		alert.Accounts = append(alert.Accounts, AlertAccount{
			AccountID:  d.AccountID,
			Name:       d.Name,
			Currency:   d.Currency,
			Stored:     d.Stored.StringFixed(2),
			Replayed:   d.Replayed.StringFixed(2),
			Difference: d.Difference.StringFixed(2),
		})
	}
	return alert
}
