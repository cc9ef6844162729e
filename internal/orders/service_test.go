package orders_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-cached-orders/internal/apperr"
	"github.com/ariefcatur/go-cached-orders/internal/eventbus"
	"github.com/ariefcatur/go-cached-orders/internal/mocks"
	"github.com/ariefcatur/go-cached-orders/internal/orders"
	"github.com/ariefcatur/go-cached-orders/internal/redisx"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	store *mocks.MockOrderStore
	pub   *mocks.MockPublisher
	mr    *miniredis.Miniredis
	svc   *orders.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	mr := miniredis.RunT(t)
	cache, err := redisx.New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	f := &fixture{
		store: mocks.NewMockOrderStore(ctrl),
		pub:   mocks.NewMockPublisher(ctrl),
		mr:    mr,
	}
	f.svc = orders.NewService(f.store, cache, f.pub, "orders", 0, zaptest.NewLogger(t))
	return f
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleOrder(id int64) orders.Order {
	return orders.Order{
		ID: id,
		OrderDetails: []orders.OrderDetail{
			{ID: 10, OrderID: id, ProductID: "the_odyssey", Price: price("99.51"), Quantity: 1},
			{ID: 11, OrderID: id, ProductID: "the_enigma", Price: price("30.99"), Quantity: 8},
		},
	}
}

func TestGetOrder_SecondReadIsServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := sampleOrder(1)

	f.store.EXPECT().Get(gomock.Any(), int64(1)).Return(o, nil).Times(1)

	first, err := f.svc.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.True(t, f.mr.Exists("order:1"))

	cached, err := f.mr.Get("order:1")
	require.NoError(t, err)
	want, err := orders.MarshalOrder(o)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), cached)

	second, err := f.svc.GetOrder(ctx, 1)
	require.NoError(t, err)
	a, _ := orders.MarshalOrder(first)
	b, _ := orders.MarshalOrder(second)
	assert.JSONEq(t, string(a), string(b))
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)
	f.store.EXPECT().Get(gomock.Any(), int64(9)).Return(orders.Order{}, apperr.NotFound(orders.KindOrder, int64(9)))

	_, err := f.svc.GetOrder(context.Background(), 9)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.EqualError(t, err, "order with id 9 not found")
	assert.False(t, f.mr.Exists("order:9"))
}

func TestGetOrder_CacheHitDoesNotRecheckPersistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// populated by an earlier read; the row has since been deleted behind the cache's back
	b, err := orders.MarshalOrder(sampleOrder(4))
	require.NoError(t, err)
	require.NoError(t, f.mr.Set("order:4", string(b)))
	f.store.EXPECT().Get(gomock.Any(), gomock.Any()).Times(0)

	got, err := f.svc.GetOrder(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.ID)
}

func TestGetOrder_CacheDownFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()
	f.store.EXPECT().Get(gomock.Any(), int64(2)).Return(sampleOrder(2), nil)

	got, err := f.svc.GetOrder(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestListOrders_BypassesCache(t *testing.T) {
	f := newFixture(t)
	f.store.EXPECT().List(gomock.Any()).Return([]orders.Order{sampleOrder(1), sampleOrder(2)}, nil)

	got, err := f.svc.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, f.mr.Keys())
}

func TestCreateOrder_PublishesOneEventWithAllDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := orders.CreateOrderInput{OrderDetails: []orders.DetailInput{
		{ProductID: "the_odyssey", Price: price("99.99"), Quantity: 1},
		{ProductID: "the_enigma", Price: price("5.99"), Quantity: 8},
	}}
	created := orders.Order{ID: 42, OrderDetails: []orders.OrderDetail{
		{ID: 1, OrderID: 42, ProductID: "the_odyssey", Price: price("99.99"), Quantity: 1},
		{ID: 2, OrderID: 42, ProductID: "the_enigma", Price: price("5.99"), Quantity: 8},
	}}

	var published []eventbus.Envelope
	gomock.InOrder(
		f.store.EXPECT().Create(gomock.Any(), in.OrderDetails).Return(created, nil),
		f.pub.EXPECT().Publish(gomock.Any(), eventbus.TopicOrderCreated, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, env eventbus.Envelope) error {
				published = append(published, env)
				return nil
			}),
	)

	got, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.Empty(t, f.mr.Keys(), "created orders are not cached")

	require.Len(t, published, 1)
	env := published[0]
	assert.Equal(t, eventbus.TopicOrderCreated, env.EventType)
	assert.Equal(t, "orders", env.Producer)
	assert.Equal(t, "42", env.Key)

	payload, err := eventbus.DecodePayload[orders.OrderCreatedPayload](env)
	require.NoError(t, err)
	assert.Equal(t, int64(42), payload.Order.ID)
	require.Len(t, payload.Order.OrderDetails, len(in.OrderDetails))
	for i, d := range payload.Order.OrderDetails {
		assert.Equal(t, in.OrderDetails[i].ProductID, d.ProductID)
		assert.True(t, in.OrderDetails[i].Price.Equal(d.Price))
		assert.Equal(t, in.OrderDetails[i].Quantity, d.Quantity)
	}
}

func TestCreateOrder_PublishFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	in := orders.CreateOrderInput{OrderDetails: []orders.DetailInput{{ProductID: "A", Price: price("10.00"), Quantity: 2}}}
	created := orders.Order{ID: 5, OrderDetails: []orders.OrderDetail{{ID: 1, OrderID: 5, ProductID: "A", Price: price("10.00"), Quantity: 2}}}

	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(created, nil)
	f.pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker unreachable"))

	got, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.ID)
}

func TestCreateOrder_InvalidInputNeverReachesStore(t *testing.T) {
	f := newFixture(t)
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)
	f.pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	for name, in := range map[string]orders.CreateOrderInput{
		"no details":     {},
		"no product":     {OrderDetails: []orders.DetailInput{{Price: price("1"), Quantity: 1}}},
		"negative qty":   {OrderDetails: []orders.DetailInput{{ProductID: "A", Price: price("1"), Quantity: -1}}},
		"negative price": {OrderDetails: []orders.DetailInput{{ProductID: "A", Price: price("-1"), Quantity: 1}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestCreateOrder_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(orders.Order{}, errors.New("tx aborted"))
	f.pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{
		OrderDetails: []orders.DetailInput{{ProductID: "A", Price: price("1"), Quantity: 1}},
	})
	assert.ErrorContains(t, err, "tx aborted")
}

// applyTo simulates the repository: run apply on a copy of stored and return it.
func applyTo(stored orders.Order) func(context.Context, int64, func(*orders.Order) error) (orders.Order, error) {
	return func(_ context.Context, _ int64, apply func(*orders.Order) error) (orders.Order, error) {
		o := stored
		o.OrderDetails = append([]orders.OrderDetail(nil), stored.OrderDetails...)
		if err := apply(&o); err != nil {
			return orders.Order{}, err
		}
		return o, nil
	}
}

func TestUpdateOrder_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stored := sampleOrder(3)

	f.store.EXPECT().Get(gomock.Any(), int64(3)).Return(stored, nil)
	_, err := f.svc.GetOrder(ctx, 3)
	require.NoError(t, err)
	require.True(t, f.mr.Exists("order:3"))

	payload := sampleOrder(3)
	for i := range payload.OrderDetails {
		payload.OrderDetails[i].Quantity++
	}
	f.store.EXPECT().Update(gomock.Any(), int64(3), gomock.Any()).DoAndReturn(applyTo(stored))

	updated, err := f.svc.UpdateOrder(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.OrderDetails[0].Quantity)
	assert.Equal(t, 9, updated.OrderDetails[1].Quantity)
	assert.False(t, f.mr.Exists("order:3"))

	f.store.EXPECT().Get(gomock.Any(), int64(3)).Return(updated, nil)
	again, err := f.svc.GetOrder(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 9, again.OrderDetails[1].Quantity)
}

func TestUpdateOrder_OnlyPriceAndQuantityChange(t *testing.T) {
	f := newFixture(t)
	stored := sampleOrder(6)
	payload := sampleOrder(6)
	payload.OrderDetails[0].ProductID = "hijacked"
	payload.OrderDetails[0].Price = price("1.25")
	payload.OrderDetails = append(payload.OrderDetails, orders.OrderDetail{ID: 99, ProductID: "extra", Quantity: 1})

	f.store.EXPECT().Update(gomock.Any(), int64(6), gomock.Any()).DoAndReturn(applyTo(stored))

	updated, err := f.svc.UpdateOrder(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, updated.OrderDetails, 2)
	assert.Equal(t, "the_odyssey", updated.OrderDetails[0].ProductID)
	assert.True(t, price("1.25").Equal(updated.OrderDetails[0].Price))
}

func TestUpdateOrder_MissingDetailFailsWholeCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stored := sampleOrder(7)
	require.NoError(t, f.mr.Set("order:7", "cached"))

	payload := sampleOrder(7)
	payload.OrderDetails[0].Quantity = 50
	payload.OrderDetails = payload.OrderDetails[:1] // detail 11 missing

	var mutated orders.Order
	f.store.EXPECT().Update(gomock.Any(), int64(7), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, apply func(*orders.Order) error) (orders.Order, error) {
			mutated = stored
			mutated.OrderDetails = append([]orders.OrderDetail(nil), stored.OrderDetails...)
			return orders.Order{}, apply(&mutated)
		})

	_, err := f.svc.UpdateOrder(ctx, payload)
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 1, mutated.OrderDetails[0].Quantity, "no field mutated before failing")
	assert.True(t, f.mr.Exists("order:7"), "cache untouched on failure")
}

func TestUpdateOrder_NotFound(t *testing.T) {
	f := newFixture(t)
	f.store.EXPECT().Update(gomock.Any(), int64(8), gomock.Any()).Return(orders.Order{}, apperr.NotFound(orders.KindOrder, int64(8)))

	_, err := f.svc.UpdateOrder(context.Background(), sampleOrder(8))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateOrder_RejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	f.store.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.svc.UpdateOrder(context.Background(), orders.Order{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bad := sampleOrder(1)
	bad.OrderDetails[0].Quantity = -3
	_, err = f.svc.UpdateOrder(context.Background(), bad)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteOrder_RemovesCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mr.Set("order:5", "cached"))

	f.store.EXPECT().Delete(gomock.Any(), int64(5)).Return(nil)
	require.NoError(t, f.svc.DeleteOrder(ctx, 5))
	assert.False(t, f.mr.Exists("order:5"))

	f.store.EXPECT().Get(gomock.Any(), int64(5)).Return(orders.Order{}, apperr.NotFound(orders.KindOrder, int64(5)))
	_, err := f.svc.GetOrder(ctx, 5)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteOrder_NotFoundKeepsCache(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set("order:6", "cached"))
	f.store.EXPECT().Delete(gomock.Any(), int64(6)).Return(apperr.NotFound(orders.KindOrder, int64(6)))

	err := f.svc.DeleteOrder(context.Background(), 6)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.True(t, f.mr.Exists("order:6"))
}

func TestService_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFixture(t)
	f.store.EXPECT().List(gomock.Any()).Return(nil, nil)
	_, err := f.svc.ListOrders(context.Background())
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "orders.list_orders")
}
