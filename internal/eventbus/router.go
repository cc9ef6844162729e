package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-cached-orders/internal/metrics"
)

// Handler processes one delivered event. Deliveries are at-least-once, so handlers must
// tolerate seeing the same envelope twice.
type Handler func(ctx context.Context, env Envelope) error

// ErrPermanentFailure marks a handler error that redelivery cannot fix. The transport
// commits such events instead of retrying them.
var ErrPermanentFailure = errors.New("permanent failure processing event")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func (e *permanentError) Is(target error) bool { return target == ErrPermanentFailure }

// Permanent wraps err so that errors.Is(err, ErrPermanentFailure) holds while the
// original chain stays reachable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Publisher hands an event to the channel. It does not wait for subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// Router is the subscription table: topic -> handlers in subscription order.
type Router struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func NewRouter() *Router {
	return &Router{subs: make(map[string][]Handler)}
}

func (r *Router) Subscribe(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[topic] = append(r.subs[topic], h)
}

// Topics lists every topic with at least one subscriber.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for t := range r.subs {
		out = append(out, t)
	}
	return out
}

// Dispatch calls every handler subscribed to topic. A failing handler does not stop the
// ones after it; their errors are joined.
func (r *Router) Dispatch(ctx context.Context, topic string, env Envelope) error {
	r.mu.RLock()
	hs := append([]Handler(nil), r.subs[topic]...)
	r.mu.RUnlock()

	var errs []error
	for i, h := range hs {
		if err := h(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("handler %d for %s: %w", i, topic, err))
		}
	}
	if len(errs) > 0 {
		metrics.EventsHandled.WithLabelValues(topic, "error").Inc()
		return errors.Join(errs...)
	}
	metrics.EventsHandled.WithLabelValues(topic, "ok").Inc()
	return nil
}
