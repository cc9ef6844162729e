package orders

// OrderCreatedPayload is the body of the order_created event.
type OrderCreatedPayload struct {
	Order Order `json:"order"`
}
