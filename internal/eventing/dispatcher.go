package eventing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"erp-core/internal/observability/metrics"
)

const defaultMaxAttempts = 10

// Dispatcher relays outbox records to a Sink.
type Dispatcher struct {
	sink        Sink
	outbox      OutboxStore
	dlq         DLQStore
	maxAttempts int
	logger      *zap.Logger
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit, maxAttempts int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkDead(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Attempts int
	Envelope Envelope
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(sink Sink, outbox OutboxStore, dlq DLQStore, maxAttempts int, logger *zap.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sink: sink, outbox: outbox, dlq: dlq, maxAttempts: maxAttempts, logger: logger}
}

// Dispatch pulls pending outbox messages and delivers them. It returns the
// number of records sent.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (int, error) {
	if d == nil || d.outbox == nil || d.sink == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit, d.maxAttempts)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		env := record.Envelope
		if err := d.sink.Send(ctx, env); err != nil {
			d.fail(ctx, record, err)
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			d.logger.Warn("outbox mark sent failed", zap.String("outbox_id", record.ID), zap.Error(err))
			continue
		}
		metrics.IncOutboxRelay(metrics.ResultSuccess)
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) fail(ctx context.Context, record OutboxRecord, cause error) {
	metrics.IncOutboxRelay(metrics.ResultError)
	logger := d.logger.With(
		zap.String("outbox_id", record.ID),
		zap.String("event_type", record.Envelope.EventType),
		zap.Int("attempts", record.Attempts+1),
		zap.Error(cause),
	)
	if record.Attempts+1 < d.maxAttempts {
		if err := d.outbox.MarkFailed(ctx, record.ID, cause.Error()); err != nil {
			logger.Warn("outbox mark failed failed", zap.NamedError("mark_error", err))
		}
		logger.Warn("outbox relay failed")
		return
	}

	if err := d.outbox.MarkDead(ctx, record.ID); err != nil {
		logger.Warn("outbox mark dead failed", zap.NamedError("mark_error", err))
	}
	if d.dlq != nil {
		if err := d.dlq.RecordFailure(ctx, record.Envelope, cause); err != nil {
			logger.Error("dlq record failed", zap.NamedError("dlq_error", err))
		}
	}
	metrics.IncOutboxRelay("dead")
	logger.Error("outbox record moved to dlq")
}

// Run dispatches every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, batch int) error {
	if d == nil {
		return errors.New("eventing: nil dispatcher")
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				sent, err := d.Dispatch(ctx, batch)
				if err != nil {
					if ctx.Err() == nil {
						d.logger.Warn("outbox dispatch failed", zap.Error(err))
					}
					break
				}
				if sent < batch || batch <= 0 {
					break
				}
			}
		}
	}
}
