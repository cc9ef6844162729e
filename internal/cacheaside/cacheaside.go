// Package cacheaside implements the read-through / write-invalidate protocol shared by
// the orders and products services.
//
// The cache is never the source of truth: a broken cache degrades to persistence reads
// and skipped invalidations, it never fails a call.
package cacheaside

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cached-orders/internal/metrics"
	"go.uber.org/zap"
)

// ErrMiss is returned by Cache.Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

// Cache is the key/value side channel.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Codec maps an entity to and from its cached wire form.
type Codec[T any] struct {
	Marshal   func(T) ([]byte, error)
	Unmarshal func([]byte) (T, error)
}

type Coordinator[T any] struct {
	kind  string
	cache Cache
	codec Codec[T]
	ttl   time.Duration
	log   *zap.Logger
}

// New returns a coordinator for one entity kind. ttl <= 0 stores entries without expiry.
func New[T any](kind string, cache Cache, codec Codec[T], ttl time.Duration, log *zap.Logger) *Coordinator[T] {
	return &Coordinator[T]{kind: kind, cache: cache, codec: codec, ttl: ttl, log: log}
}

// Key formats the cache key "<kind>:<id>".
func Key(kind string, id any) string { return fmt.Sprintf("%s:%v", kind, id) }

func (c *Coordinator[T]) Key(id any) string { return Key(c.kind, id) }

// Read returns the cached entity for id, or loads it and populates the cache.
// A hit is returned as is, without asking persistence whether the entity still exists.
// Errors from load (including not-found) are returned untouched and leave the cache alone.
func (c *Coordinator[T]) Read(ctx context.Context, id any, load func(context.Context) (T, error)) (T, error) {
	key := c.Key(id)

	if v, ok := c.lookup(ctx, key); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	b, err := c.codec.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
		metrics.CacheOperations.WithLabelValues(c.kind, "set", "error").Inc()
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	metrics.CacheOperations.WithLabelValues(c.kind, "set", "ok").Inc()
	return v, nil
}

// Invalidate drops the entry for id. Call it only after the write has committed.
func (c *Coordinator[T]) Invalidate(ctx context.Context, id any) {
	key := c.Key(id)
	if err := c.cache.Del(ctx, key); err != nil {
		metrics.CacheOperations.WithLabelValues(c.kind, "del", "error").Inc()
		c.log.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.CacheOperations.WithLabelValues(c.kind, "del", "ok").Inc()
}

func (c *Coordinator[T]) lookup(ctx context.Context, key string) (T, bool) {
	var zero T
	b, err := c.cache.Get(ctx, key)
	switch {
	case errors.Is(err, ErrMiss):
		metrics.CacheOperations.WithLabelValues(c.kind, "get", "miss").Inc()
		return zero, false
	case err != nil:
		metrics.CacheOperations.WithLabelValues(c.kind, "get", "error").Inc()
		c.log.Warn("cache get failed, reading through", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	v, err := c.codec.Unmarshal(b)
	if err != nil {
		metrics.CacheOperations.WithLabelValues(c.kind, "get", "error").Inc()
		c.log.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.cache.Del(ctx, key)
		return zero, false
	}
	metrics.CacheOperations.WithLabelValues(c.kind, "get", "hit").Inc()
	return v, true
}
