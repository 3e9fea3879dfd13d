package eventing

import (
	"context"
	"errors"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Sink delivers an envelope to downstream consumers.
type Sink interface {
	Send(ctx context.Context, env Envelope) error
}

// LogSink writes envelopes to the log. Used when no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Send logs env.
func (s *LogSink) Send(_ context.Context, env Envelope) error {
	s.logger.Info("event",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("aggregate_type", env.AggregateType),
		zap.String("aggregate_id", env.AggregateID),
		zap.ByteString("payload", env.Payload),
	)
	return nil
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes envelopes to "<prefix>.<aggregate type>" keyed by
// aggregate id.
type KafkaSink struct {
	writer      MessageWriter
	topicPrefix string
	tracer      trace.Tracer
}

// NewKafkaWriter builds a writer for brokers with per-message topics.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaSink constructs a KafkaSink.
func NewKafkaSink(writer MessageWriter, topicPrefix string) (*KafkaSink, error) {
	if writer == nil {
		return nil, errors.New("kafka sink: nil writer")
	}
	return &KafkaSink{writer: writer, topicPrefix: topicPrefix, tracer: otel.Tracer("erp-core/eventing")}, nil
}

// Topic returns the topic for env.
func (s *KafkaSink) Topic(env Envelope) string {
	name := env.AggregateType
	if name == "" {
		name = "events"
	}
	if s.topicPrefix == "" {
		return name
	}
	return strings.TrimSuffix(s.topicPrefix, ".") + "." + name
}

// Send writes env to Kafka.
func (s *KafkaSink) Send(ctx context.Context, env Envelope) error {
	propagator := otel.GetTextMapPropagator()
	if len(env.Headers) > 0 {
		ctx = propagator.Extract(ctx, propagation.MapCarrier(env.Headers))
	}
	topic := s.Topic(env)
	ctx, span := s.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.id", env.EventID),
		),
	)
	defer span.End()

	value, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	headers := headerCarrier{
		{Key: "event_id", Value: []byte(env.EventID)},
		{Key: "event_type", Value: []byte(env.EventType)},
		{Key: "tenant_id", Value: []byte(env.TenantID)},
	}
	propagator.Inject(ctx, &headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(env.AggregateID),
		Value:   value,
		Headers: headers,
		Time:    env.OccurredAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}
