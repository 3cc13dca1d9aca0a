package store

import (
	"context"
	"errors"

	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/domain/user"
)

var (
	// ErrInsufficientStock is returned by DecrementStock when the
	// conditional check fails, i.e. stock < qty at write time.
	ErrInsufficientStock = errors.New("insufficient stock for conditional decrement")
	// ErrAlreadyExists is returned when creating a document whose key is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrStatusConflict is returned by SaveOrderFrom when the stored
	// fulfillment status no longer matches the expected one.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// ProductStore is the catalog collaborator contract the engine depends on.
// DecrementStock must be a single atomic "decrement only if stock >= qty"
// operation; backends without such a primitive must retry optimistically.
type ProductStore interface {
	PutProduct(ctx context.Context, p *product.Product) error
	GetProduct(ctx context.Context, id string) (*product.Product, error)
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
}

// OrderStore persists order documents by primary key.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	SaveOrder(ctx context.Context, o *order.Order) error
	// SaveOrderFrom persists the order only while the stored fulfillment
	// status still equals from, closing the window between reading an
	// order and writing its transition.
	SaveOrderFrom(ctx context.Context, o *order.Order, from order.Status) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error)
	ListOrders(ctx context.Context) ([]*order.Order, error)
	DeleteOrder(ctx context.Context, id string) error
}

// UserStore persists accounts for the auth surface.
type UserStore interface {
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
}

// Store bundles the three collections a backend provides.
type Store interface {
	ProductStore
	OrderStore
	UserStore
}
