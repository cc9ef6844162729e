package products

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-cached-orders/internal/cacheaside"
)

func MarshalProduct(p Product) ([]byte, error) { return json.Marshal(p) }

func UnmarshalProduct(b []byte) (Product, error) {
	var p Product
	if err := json.Unmarshal(b, &p); err != nil {
		return Product{}, fmt.Errorf("decode product: %w", err)
	}
	return p, nil
}

var productCodec = cacheaside.Codec[Product]{Marshal: MarshalProduct, Unmarshal: UnmarshalProduct}
