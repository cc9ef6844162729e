package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
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

// Dispatcher hands a decoded envelope to the subscribers of its topic.
type Dispatcher interface {
	Dispatch(ctx context.Context, topic string, env eventbus.Envelope) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fans messages out to a fixed worker pool. A partition always lands on the same
// worker so its messages are handled in offset order. Offsets are committed only after
// dispatch finished, so a crash mid-handler redelivers the message.
//
// Handlers run on a context detached from Start's, bounded by handlerTimeout, so shutdown
// never cuts a handler off between its side effects.
type Consumer struct {
	r              messageReader
	workers        int
	attempts       int
	backoff        time.Duration
	handlerTimeout time.Duration
	log            *zap.Logger
	tracer         trace.Tracer
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit synchronously
		StartOffset:    kafka.FirstOffset,
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:              r,
		workers:        workers,
		attempts:       3,
		backoff:        200 * time.Millisecond,
		handlerTimeout: 30 * time.Second,
		log:            log,
		tracer:         otel.Tracer("kafka"),
	}
}

// Start blocks until ctx is cancelled or the reader fails. A message already being handled
// runs to completion before Start returns; queued messages that have not started are left
// uncommitted for redelivery.
func (c *Consumer) Start(ctx context.Context, d Dispatcher) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(q <-chan kafka.Message) {
			defer wg.Done()
			for m := range q {
				if ctx.Err() != nil {
					continue
				}
				c.process(ctx, d, m)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		select {
		case queues[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, d Dispatcher, m kafka.Message) {
	log := c.log.With(
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.handlerTimeout)
	defer cancel()

	var env eventbus.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// redelivery cannot fix a broken envelope
		log.Error("malformed envelope dropped", zap.Error(err))
		metrics.EventsHandled.WithLabelValues(m.Topic, "malformed").Inc()
		c.commit(hctx, log, m)
		return
	}

	hctx = otel.GetTextMapPropagator().Extract(hctx, headerCarrier{&m.Headers})
	hctx, span := c.tracer.Start(hctx, "kafka.consume "+m.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", m.Topic),
			attribute.String("messaging.message.id", env.EventID),
		))
	defer span.End()

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = d.Dispatch(hctx, m.Topic, env); err == nil {
			break
		}
		if errors.Is(err, eventbus.ErrPermanentFailure) {
			break
		}
		log.Warn("dispatch failed",
			zap.String("event_id", env.EventID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == c.attempts {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			// shutting down between attempts: leave it for redelivery
			return
		}
	}
	switch {
	case errors.Is(err, eventbus.ErrPermanentFailure):
		span.SetStatus(codes.Error, err.Error())
		log.Error("event rejected without retry", zap.String("event_id", env.EventID), zap.Error(err))
		metrics.EventsHandled.WithLabelValues(m.Topic, "rejected").Inc()
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		log.Error("event abandoned after retries", zap.String("event_id", env.EventID), zap.Error(err))
		metrics.EventsHandled.WithLabelValues(m.Topic, "abandoned").Inc()
	}
	c.commit(hctx, log, m)
}

func (c *Consumer) commit(ctx context.Context, log *zap.Logger, m kafka.Message) {
	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Error("commit failed", zap.Error(err))
	}
}
