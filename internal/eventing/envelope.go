package eventing

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Event is a domain event that can be written to the outbox.
type Event interface {
	EventName() string
	AggregateType() string
	AggregateID() string
}

// Versioned events declare the schema version of their payload. Other
// events are version 1.
type Versioned interface {
	SchemaVersion() int
}

// Envelope is the wire form of an event on the outbox and the broker.
type Envelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	OccurredAt    time.Time         `json:"occurred_at"`
	CorrelationID string            `json:"correlation_id"`
	TenantID      string            `json:"tenant_id"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	SchemaVersion int               `json:"schema_version"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
}

// Meta overrides envelope fields. Zero fields are derived.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	TenantID      string
}

// NewEventID returns a time-ordered event identifier.
func NewEventID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// BuildEnvelope wraps event. The occurrence time falls back to the event's
// OccurredAt field and then to now; the correlation id falls back to the
// event id. The trace context of ctx, if any, is carried in Headers.
func BuildEnvelope(ctx context.Context, event Event, meta Meta) (Envelope, error) {
	if event == nil || isNilPointer(event) {
		return Envelope{}, errors.New("eventing: nil event")
	}
	if event.EventName() == "" {
		return Envelope{}, errors.New("eventing: empty event name")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     event.EventName(),
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		TenantID:      meta.TenantID,
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		SchemaVersion: 1,
		Payload:       payload,
	}
	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = occurredAt(event)
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if v, ok := event.(Versioned); ok && v.SchemaVersion() > 0 {
		env.SchemaVersion = v.SchemaVersion()
	}

	if ctx != nil {
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		if len(carrier) > 0 {
			env.Headers = carrier
		}
	}
	return env, nil
}

func isNilPointer(event any) bool {
	v := reflect.ValueOf(event)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// occurredAt reads a time.Time OccurredAt field, or returns now.
func occurredAt(event any) time.Time {
	v := reflect.Indirect(reflect.ValueOf(event))
	if v.Kind() == reflect.Struct {
		if f := v.FieldByName("OccurredAt"); f.IsValid() && f.CanInterface() {
			if t, ok := f.Interface().(time.Time); ok && !t.IsZero() {
				return t
			}
		}
	}
	return time.Now()
}
