package products

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// orderCreated is the slice of the order_created payload this service reads.
// It is decoded independently of the orders package so the two services share only
// the wire format.
type orderCreated struct {
	Order struct {
		ID           int64      `json:"id"`
		OrderDetails []lineItem `json:"order_details"`
	} `json:"order"`
}

type lineItem struct {
	ID        int64           `json:"id"`
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// ItemError reports a line item whose stock decrement failed.
type ItemError struct {
	Index     int
	ProductID string
	Err       error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("line item %d (product %s): %v", e.Index, e.ProductID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
