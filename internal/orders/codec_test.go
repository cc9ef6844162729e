package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCodec_RoundTrip(t *testing.T) {
	in := Order{
		ID: 12,
		OrderDetails: []OrderDetail{
			{ID: 1, OrderID: 12, ProductID: "the_odyssey", Price: decimal.RequireFromString("99.51"), Quantity: 1},
			{ID: 2, OrderID: 12, ProductID: "the_enigma", Price: decimal.RequireFromString("30.99"), Quantity: 8},
		},
	}

	b, err := MarshalOrder(in)
	require.NoError(t, err)
	out, err := UnmarshalOrder(b)
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	require.Len(t, out.OrderDetails, len(in.OrderDetails))
	for i := range in.OrderDetails {
		want, got := in.OrderDetails[i], out.OrderDetails[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.OrderID, got.OrderID)
		assert.Equal(t, want.ProductID, got.ProductID)
		assert.True(t, want.Price.Equal(got.Price), "price %s != %s", want.Price, got.Price)
		assert.Equal(t, want.Quantity, got.Quantity)
	}
}

func TestOrderCodec_EmptyDetailsEncodeAsArray(t *testing.T) {
	b, err := MarshalOrder(Order{ID: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"order_details":[]}`, string(b))

	o, err := UnmarshalOrder([]byte(`{"id":3}`))
	require.NoError(t, err)
	assert.NotNil(t, o.OrderDetails)
}

func TestUnmarshalOrder_AcceptsNumericPrice(t *testing.T) {
	o, err := UnmarshalOrder([]byte(`{"id":1,"order_details":[{"id":1,"product_id":"A","price":10.5,"quantity":2}]}`))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.50").Equal(o.OrderDetails[0].Price))

	_, err = UnmarshalOrder([]byte(`[]`))
	assert.Error(t, err)
}
