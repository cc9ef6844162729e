package products

import "strings"

type Product struct {
	ID                string `json:"id" db:"id"`
	Title             string `json:"title" db:"title"`
	PassengerCapacity int    `json:"passenger_capacity" db:"passenger_capacity"`
	MaximumSpeed      int    `json:"maximum_speed" db:"maximum_speed"`
	InStock           int    `json:"in_stock" db:"in_stock"`
}

type ProductInput struct {
	ID                string `json:"id" validate:"required,max=64"`
	Title             string `json:"title" validate:"required,max=255"`
	PassengerCapacity int    `json:"passenger_capacity" validate:"gte=0"`
	MaximumSpeed      int    `json:"maximum_speed" validate:"gte=0"`
	InStock           int    `json:"in_stock" validate:"gte=0"`
}

func (in ProductInput) normalize() ProductInput {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	return in
}

func (in ProductInput) product() Product {
	return Product{
		ID:                in.ID,
		Title:             in.Title,
		PassengerCapacity: in.PassengerCapacity,
		MaximumSpeed:      in.MaximumSpeed,
		InStock:           in.InStock,
	}
}
