package orders

import "github.com/shopspring/decimal"

type Order struct {
	ID           int64         `json:"id"`
	OrderDetails []OrderDetail `json:"order_details" validate:"dive"`
}

// OrderDetail is one line item. Only Price and Quantity change after creation.
type OrderDetail struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price" validate:"money"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
}

type DetailInput struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Price     decimal.Decimal `json:"price" validate:"money"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
}

type CreateOrderInput struct {
	OrderDetails []DetailInput `json:"order_details" validate:"required,min=1,dive"`
}
