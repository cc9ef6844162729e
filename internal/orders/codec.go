package orders

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-cached-orders/internal/cacheaside"
)

// MarshalOrder is the wire form used for RPC responses, cache entries and event payloads.
func MarshalOrder(o Order) ([]byte, error) {
	if o.OrderDetails == nil {
		o.OrderDetails = []OrderDetail{}
	}
	return json.Marshal(o)
}

func UnmarshalOrder(b []byte) (Order, error) {
	var o Order
	if err := json.Unmarshal(b, &o); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	if o.OrderDetails == nil {
		o.OrderDetails = []OrderDetail{}
	}
	return o, nil
}

var orderCodec = cacheaside.Codec[Order]{Marshal: MarshalOrder, Unmarshal: UnmarshalOrder}
