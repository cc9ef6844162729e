package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cached-orders/internal/apperr"
	"github.com/ariefcatur/go-cached-orders/internal/cacheaside"
	"github.com/ariefcatur/go-cached-orders/internal/eventbus"
	"github.com/ariefcatur/go-cached-orders/internal/metrics"
	"github.com/ariefcatur/go-cached-orders/internal/redisx"
	"github.com/ariefcatur/go-cached-orders/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const KindProduct = "product"

// Store is the persistence collaborator. Missing ids yield *apperr.NotFoundError.
type Store interface {
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context) ([]Product, error)
	Create(ctx context.Context, p Product) error
	Delete(ctx context.Context, id string) error
	DecrementStock(ctx context.Context, id string, qty int) (int, error)
}

// Marks remembers which line items of an event were already applied. It shares the
// cache backend and is just as best-effort.
type Marks interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Service struct {
	store  Store
	cache  *cacheaside.Coordinator[Product]
	marks  Marks
	log    *zap.Logger
	tracer trace.Tracer
}

func NewService(store Store, cache cacheaside.Cache, marks Marks, cacheTTL time.Duration, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cacheaside.New(KindProduct, cache, productCodec, cacheTTL, log),
		marks:  marks,
		log:    log,
		tracer: otel.Tracer("products"),
	}
}

func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	ctx, span := s.tracer.Start(ctx, "products.get", trace.WithAttributes(attribute.String("product.id", id)))
	defer span.End()

	return s.cache.Read(ctx, id, func(ctx context.Context) (Product, error) {
		return s.store.Get(ctx, id)
	})
}

func (s *Service) List(ctx context.Context) ([]Product, error) {
	ctx, span := s.tracer.Start(ctx, "products.list")
	defer span.End()

	return s.store.List(ctx)
}

func (s *Service) Create(ctx context.Context, in ProductInput) error {
	ctx, span := s.tracer.Start(ctx, "products.create")
	defer span.End()

	in = in.normalize()
	if err := validation.Struct(in); err != nil {
		return err
	}
	return s.store.Create(ctx, in.product())
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "products.delete", trace.WithAttributes(attribute.String("product.id", id)))
	defer span.End()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	return nil
}

// Subscribe registers the service's event handlers.
func (s *Service) Subscribe(r *eventbus.Router) {
	r.Subscribe(eventbus.TopicOrderCreated, s.HandleOrderCreated)
}

// HandleOrderCreated decrements stock once per line item. Items are independent: a failed
// item is logged and reported in the returned error, and the remaining items still run.
//
// The error is marked eventbus.ErrPermanentFailure when redelivery cannot help (every
// failure is NotFound or ValidationError) or cannot be made safe (an applied item has no
// dedup marker, so a retry would decrement it again).
func (s *Service) HandleOrderCreated(ctx context.Context, env eventbus.Envelope) error {
	ctx, span := s.tracer.Start(ctx, "products.handle_order_created",
		trace.WithAttributes(attribute.String("event.id", env.EventID)))
	defer span.End()

	ev, err := eventbus.DecodePayload[orderCreated](env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("undecodable order_created event", zap.String("event_id", env.EventID), zap.Error(err))
		return eventbus.Permanent(err)
	}

	var (
		errs      []error
		transient bool
		unmarked  int
	)
	for i, item := range ev.Order.OrderDetails {
		marked, err := s.applyLineItem(ctx, env.EventID, i, item)
		if err != nil {
			s.log.Error("stock decrement failed",
				zap.String("event_id", env.EventID),
				zap.Int64("order_id", ev.Order.ID),
				zap.Int("line", i),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
			errs = append(errs, &ItemError{Index: i, ProductID: item.ProductID, Err: err})
			if !permanent(err) {
				transient = true
			}
			continue
		}
		if !marked {
			unmarked++
		}
	}
	if len(errs) == 0 {
		return nil
	}

	span.SetStatus(codes.Error, fmt.Sprintf("%d of %d line items failed", len(errs), len(ev.Order.OrderDetails)))
	joined := errors.Join(errs...)
	if !transient {
		return eventbus.Permanent(joined)
	}
	if unmarked > 0 {
		s.log.Error("not retrying event: applied line items carry no dedup marker",
			zap.String("event_id", env.EventID),
			zap.Int("unmarked", unmarked),
		)
		return eventbus.Permanent(joined)
	}
	return joined
}

func permanent(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrValidation)
}

// applyLineItem reports whether the item is covered by a dedup marker once it returns
// without error: either it was skipped as already applied or its marker was written.
func (s *Service) applyLineItem(ctx context.Context, eventID string, line int, item lineItem) (bool, error) {
	if item.Quantity < 0 {
		metrics.StockDecrements.WithLabelValues("error").Inc()
		return false, apperr.Invalid("quantity", "must be greater than or equal to 0")
	}

	mark := ""
	if eventID != "" {
		mark = fmt.Sprintf(redisx.KeyDedup, "products", eventID, fmt.Sprint(line))
		seen, err := s.marks.Exists(ctx, mark)
		if err != nil {
			s.log.Warn("dedup lookup failed", zap.String("key", mark), zap.Error(err))
		}
		if seen {
			metrics.StockDecrements.WithLabelValues("skipped").Inc()
			return true, nil
		}
	}

	left, err := s.store.DecrementStock(ctx, item.ProductID, item.Quantity)
	if err != nil {
		metrics.StockDecrements.WithLabelValues("error").Inc()
		return false, err
	}
	s.cache.Invalidate(ctx, item.ProductID)
	metrics.StockDecrements.WithLabelValues("ok").Inc()
	s.log.Debug("stock decremented",
		zap.String("product_id", item.ProductID),
		zap.Int("quantity", item.Quantity),
		zap.Int("in_stock", left),
	)

	if mark == "" {
		return false, nil
	}
	if err := s.marks.Set(ctx, mark, []byte("1"), redisx.TTLDedup); err != nil {
		s.log.Warn("dedup mark failed", zap.String("key", mark), zap.Error(err))
		return false, nil
	}
	return true, nil
}
