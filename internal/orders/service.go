package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-cached-orders/internal/apperr"
	"github.com/ariefcatur/go-cached-orders/internal/cacheaside"
	"github.com/ariefcatur/go-cached-orders/internal/eventbus"
	"github.com/ariefcatur/go-cached-orders/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const KindOrder = "order"

// Store is the persistence collaborator. Missing ids yield *apperr.NotFoundError.
type Store interface {
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context) ([]Order, error)
	Create(ctx context.Context, details []DetailInput) (Order, error)
	Update(ctx context.Context, id int64, apply func(*Order) error) (Order, error)
	Delete(ctx context.Context, id int64) error
}

type Service struct {
	store    Store
	cache    *cacheaside.Coordinator[Order]
	events   eventbus.Publisher
	producer string
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewService(store Store, cache cacheaside.Cache, events eventbus.Publisher, producer string, cacheTTL time.Duration, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		cache:    cacheaside.New(KindOrder, cache, orderCodec, cacheTTL, log),
		events:   events,
		producer: producer,
		log:      log,
		tracer:   otel.Tracer("orders"),
	}
}

func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.get_order", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	return s.cache.Read(ctx, id, func(ctx context.Context) (Order, error) {
		return s.store.Get(ctx, id)
	})
}

func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.list_orders")
	defer span.End()

	return s.store.List(ctx)
}

// CreateOrder commits the order, then publishes order_created. A failed publish is logged
// and the created order is still returned.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.create_order")
	defer span.End()

	if err := validation.Struct(in); err != nil {
		return Order{}, err
	}

	o, err := s.store.Create(ctx, in.OrderDetails)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.Int64("order.id", o.ID), attribute.Int("order.details", len(o.OrderDetails)))

	s.publishCreated(ctx, o)
	return o, nil
}

// UpdateOrder overwrites price and quantity of the order's existing details. Every
// existing detail must be present in the payload, otherwise nothing is changed.
func (s *Service) UpdateOrder(ctx context.Context, in Order) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.update_order", trace.WithAttributes(attribute.Int64("order.id", in.ID)))
	defer span.End()

	if in.ID <= 0 {
		return Order{}, apperr.Invalid("id", "must be positive")
	}
	if err := validation.Struct(in); err != nil {
		return Order{}, err
	}

	incoming := make(map[int64]OrderDetail, len(in.OrderDetails))
	for _, d := range in.OrderDetails {
		incoming[d.ID] = d
	}

	updated, err := s.store.Update(ctx, in.ID, func(o *Order) error {
		for _, d := range o.OrderDetails {
			if _, ok := incoming[d.ID]; !ok {
				return apperr.Invalid("order_details", "detail %d of order %d missing from payload", d.ID, o.ID)
			}
		}
		for i := range o.OrderDetails {
			d := incoming[o.OrderDetails[i].ID]
			o.OrderDetails[i].Price = d.Price
			o.OrderDetails[i].Quantity = d.Quantity
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.cache.Invalidate(ctx, in.ID)
	return updated, nil
}

func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "orders.delete_order", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	return nil
}

func (s *Service) publishCreated(ctx context.Context, o Order) {
	env, err := eventbus.NewEnvelope(eventbus.TopicOrderCreated, s.producer, strconv.FormatInt(o.ID, 10), OrderCreatedPayload{Order: o})
	if err == nil {
		err = s.events.Publish(ctx, eventbus.TopicOrderCreated, env)
	}
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		s.log.Error("order_created not published",
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
		return
	}
	s.log.Info("order created",
		zap.Int64("order_id", o.ID),
		zap.String("event_id", env.EventID),
		zap.Int("details", len(o.OrderDetails)),
	)
}
