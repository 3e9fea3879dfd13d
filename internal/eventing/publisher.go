package eventing

import (
	"context"
	"errors"

	"erp-core/internal/platform/database"
)

// OutboxWriter inserts outbox records through the caller's transaction.
type OutboxWriter interface {
	InsertTx(ctx context.Context, exec database.Execer, env Envelope) (string, error)
}

// Publisher writes events to the outbox inside the caller's transaction.
// Delivery happens later through the Dispatcher.
type Publisher struct {
	outbox   OutboxWriter
	tenantID string
}

// NewPublisher constructs a publisher.
func NewPublisher(outbox OutboxWriter, tenantID string) *Publisher {
	return &Publisher{outbox: outbox, tenantID: tenantID}
}

// PublishTx wraps each event in an envelope and inserts it with exec.
func (p *Publisher) PublishTx(ctx context.Context, exec database.Execer, events ...Event) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	if exec == nil {
		return errors.New("eventing: nil execer")
	}
	for _, event := range events {
		env, err := BuildEnvelope(ctx, event, MetaFromContext(ctx, p.tenantID))
		if err != nil {
			return err
		}
		if _, err := p.outbox.InsertTx(ctx, exec, env); err != nil {
			return err
		}
	}
	return nil
}
