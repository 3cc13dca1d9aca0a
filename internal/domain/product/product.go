package product

import (
	"errors"
	"time"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidStock    = errors.New("stock must be non-negative")
	ErrNameRequired    = errors.New("product name is required")
)

// Product is the catalog snapshot the order engine depends on. Stock is
// mutated only through the inventory ledger's conditional updates.
type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New validates and builds a product.
func New(id, name string, priceCents int64, stock int) (*Product, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	if priceCents <= 0 {
		return nil, ErrInvalidPrice
	}
	if stock < 0 {
		return nil, ErrInvalidStock
	}

	now := time.Now().UTC()
	return &Product{
		ID:         id,
		Name:       name,
		PriceCents: priceCents,
		Stock:      stock,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
