package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-cached-orders/internal/cacheaside"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_GetSetDel(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, err := c.Get(ctx, "order:1")
	assert.ErrorIs(t, err, cacheaside.ErrMiss)

	require.NoError(t, c.Set(ctx, "order:1", []byte(`{"id":1}`), 0))
	b, err := c.Get(ctx, "order:1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(b))
	assert.Equal(t, time.Duration(0), mr.TTL("order:1"))

	require.NoError(t, c.Del(ctx, "order:1"))
	assert.False(t, mr.Exists("order:1"))

	// deleting a missing key is a no-op
	assert.NoError(t, c.Del(ctx, "order:1"))
}

func TestClient_SetWithTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "product:A", []byte("x"), time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("product:A"))

	mr.FastForward(2 * time.Minute)
	_, err := c.Get(ctx, "product:A")
	assert.ErrorIs(t, err, cacheaside.ErrMiss)
}

func TestClient_Exists(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "dedup:products:e1:0")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "dedup:products:e1:0", []byte("1"), TTLDedup))
	ok, err = c.Exists(ctx, "dedup:products:e1:0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, TTLDedup, mr.TTL("dedup:products:e1:0"))
}

func TestClient_Unavailable(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	_, err := c.Get(context.Background(), "order:1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cacheaside.ErrMiss)
}

func TestNew_BadURL(t *testing.T) {
	_, err := New("http://nope")
	assert.Error(t, err)
}
