package eventing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"erp-core/internal/auth"
)

type testEvent struct {
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e testEvent) EventName() string     { return "order.created" }
func (e testEvent) AggregateType() string { return "order" }
func (e testEvent) AggregateID() string   { return e.OrderID }

func TestBuildEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env, err := BuildEnvelope(context.Background(), testEvent{OrderID: "o-1", OccurredAt: at}, Meta{TenantID: "tenant-a"})
	require.NoError(t, err)

	assert.Equal(t, "order.created", env.EventType)
	assert.Equal(t, "order", env.AggregateType)
	assert.Equal(t, "o-1", env.AggregateID)
	assert.Equal(t, at, env.OccurredAt)
	assert.Equal(t, env.EventID, env.CorrelationID)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.JSONEq(t, `{"order_id":"o-1","occurred_at":"2026-03-01T10:00:00Z"}`, string(env.Payload))

	var nilEvent *testEvent
	_, err = BuildEnvelope(context.Background(), nilEvent, Meta{})
	assert.Error(t, err)
}

type versionedEvent struct{ testEvent }

func (versionedEvent) SchemaVersion() int { return 3 }

func TestBuildEnvelopeVersionAndDefaults(t *testing.T) {
	env, err := BuildEnvelope(context.Background(), versionedEvent{testEvent{OrderID: "o-9"}}, Meta{CorrelationID: "corr"})
	require.NoError(t, err)
	assert.Equal(t, 3, env.SchemaVersion)
	assert.Equal(t, "corr", env.CorrelationID)
	assert.False(t, env.OccurredAt.IsZero())
	assert.NotEqual(t, NewEventID(), NewEventID())
}

func TestMetaFromContextUsesIdentityTenant(t *testing.T) {
	ctx := auth.WithIdentity(context.Background(), "tenant-b", auth.RoleClerk, "u")
	ctx = WithCorrelationID(ctx, "corr-1")
	meta := MetaFromContext(ctx, "tenant-default")
	assert.Equal(t, "tenant-b", meta.TenantID)
	assert.Equal(t, "corr-1", meta.CorrelationID)

	assert.Equal(t, "tenant-default", MetaFromContext(context.Background(), "tenant-default").TenantID)
}

func TestCorrelationFallsBackToTraceID(t *testing.T) {
	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: trace.SpanID{1}})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	assert.Equal(t, traceID.String(), CorrelationIDFromContext(ctx))
	assert.Equal(t, "corr-2", CorrelationIDFromContext(WithCorrelationID(ctx, "corr-2")))
	assert.Equal(t, "", CorrelationIDFromContext(context.Background()))
}

func TestCorrelationMiddleware(t *testing.T) {
	var got string
	h := CorrelationMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = CorrelationIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set(CorrelationHeader, "checkout-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "checkout-42", got)
}

func TestPublisherWritesOutbox(t *testing.T) {
	outbox := NewMemoryOutbox()
	pub := NewPublisher(outbox, "tenant-default")

	require.NoError(t, pub.PublishTx(context.Background(), noopExecer{}, testEvent{OrderID: "o-1"}, testEvent{OrderID: "o-2"}))
	assert.Equal(t, []string{"order.created", "order.created"}, outbox.EventTypes())
}

type flakySink struct {
	mu    sync.Mutex
	fail  bool
	sent  []Envelope
	calls int
}

func (s *flakySink) Send(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("broker down")
	}
	s.sent = append(s.sent, env)
	return nil
}

type recordingDLQ struct {
	envs []Envelope
}

func (d *recordingDLQ) RecordFailure(_ context.Context, env Envelope, _ error) error {
	d.envs = append(d.envs, env)
	return nil
}

func TestDispatcherDeliversAndMarksSent(t *testing.T) {
	outbox := NewMemoryOutbox()
	env, err := BuildEnvelope(context.Background(), testEvent{OrderID: "o-1"}, Meta{})
	require.NoError(t, err)
	id := outbox.Append(env)

	sink := &flakySink{}
	d := NewDispatcher(sink, outbox, nil, 3, nil)
	sent, err := d.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, "sent", outbox.Status(id))

	sent, err = d.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestDispatcherMovesToDLQAfterMaxAttempts(t *testing.T) {
	outbox := NewMemoryOutbox()
	env, err := BuildEnvelope(context.Background(), testEvent{OrderID: "o-1"}, Meta{})
	require.NoError(t, err)
	id := outbox.Append(env)

	sink := &flakySink{fail: true}
	dlq := &recordingDLQ{}
	d := NewDispatcher(sink, outbox, dlq, 3, nil)
	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(context.Background(), 10)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, sink.calls)
	assert.Equal(t, "dead", outbox.Status(id))
	require.Len(t, dlq.envs, 1)
	assert.Equal(t, env.EventID, dlq.envs[0].EventID)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkKeysByAggregate(t *testing.T) {
	writer := &fakeWriter{}
	sink, err := NewKafkaSink(writer, "erp")
	require.NoError(t, err)

	env, err := BuildEnvelope(context.Background(), testEvent{OrderID: "o-9"}, Meta{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), env))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, "erp.order", msg.Topic)
	assert.Equal(t, "o-9", string(msg.Key))

	headers := headerCarrier(msg.Headers)
	assert.Equal(t, env.EventID, headers.Get("event_id"))
	assert.Equal(t, "tenant-a", headers.Get("tenant_id"))

	decoded, err := DecodeEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
}

func TestLogSinkNeverFails(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Send(context.Background(), Envelope{EventType: "x"}))
}
