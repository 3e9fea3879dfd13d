package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/eventing"
	eventingpg "erp-core/internal/eventing/infrastructure/postgres"
	"erp-core/internal/platform/database/dbtest"
)

type failingSink struct{ err error }

func (s failingSink) Send(context.Context, eventing.Envelope) error { return s.err }

type orderShipped struct {
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e orderShipped) EventName() string     { return "order.shipped" }
func (e orderShipped) AggregateType() string { return "order" }
func (e orderShipped) AggregateID() string   { return e.OrderID }

func TestPostgresOutboxDeadLetterAndRequeue(t *testing.T) {
	db := dbtest.Open(t, "orders", "event_outbox", "event_dlq")
	ctx := context.Background()
	outbox := eventingpg.NewOutboxStore(db.Primary)
	dlq := eventingpg.NewDLQStore(db.Primary)

	env, err := eventing.BuildEnvelope(ctx, orderShipped{OrderID: "o-1"}, eventing.Meta{TenantID: "t1"})
	require.NoError(t, err)
	_, err = outbox.InsertTx(ctx, db.Primary, env)
	require.NoError(t, err)
	_, err = outbox.InsertTx(ctx, db.Primary, env)
	require.NoError(t, err, "replayed event id is ignored")

	pending, err := outbox.ListPending(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, env.EventID, pending[0].Envelope.EventID)

	dispatcher := eventing.NewDispatcher(failingSink{err: errors.New("broker down")}, outbox, dlq, 2, nil)
	for i := 0; i < 2; i++ {
		sent, err := dispatcher.Dispatch(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, sent)
	}
	pending, err = outbox.ListPending(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, pending)

	letters, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "order.shipped", letters[0].EventType)
	assert.Equal(t, "broker down", letters[0].Error)

	ok, err := dlq.Requeue(ctx, env.EventID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = dlq.Requeue(ctx, env.EventID)
	require.NoError(t, err)
	assert.False(t, ok)

	letters, err = dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)
	pending, err = outbox.ListPending(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].Attempts)
}
