package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-cached-orders/internal/eventbus"
	"github.com/ariefcatur/go-cached-orders/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var _ eventbus.Publisher = (*Producer)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes envelopes synchronously: Publish returns once the brokers acked.
type Producer struct {
	w      messageWriter
	log    *zap.Logger
	tracer trace.Tracer
}

func NewProducer(brokers []string, log *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, log)
}

func newProducer(w messageWriter, log *zap.Logger) *Producer {
	return &Producer{w: w, log: log, tracer: otel.Tracer("kafka")}
}

func (p *Producer) Publish(ctx context.Context, topic string, env eventbus.Envelope) error {
	ctx, span := p.tracer.Start(ctx, "kafka.publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.id", env.EventID),
		))
	defer span.End()

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
		{Key: HeaderEventID, Value: []byte(env.EventID)},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{&headers})

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(env.Key),
		Value:   value,
		Time:    env.OccurredAt,
		Headers: headers,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	p.log.Debug("event published", zap.String("topic", topic), zap.String("event_id", env.EventID))
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
