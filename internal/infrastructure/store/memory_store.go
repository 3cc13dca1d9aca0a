package store

import (
	"context"
	"sync"

	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/domain/user"
)

// MemoryStore is an in-memory backend for tests and local development.
// The mutex makes every document mutation atomic, matching the conditional
// update discipline of the real backends.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]*product.Product
	orders   map[string]*order.Order
	users    map[string]*user.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*product.Product),
		orders:   make(map[string]*order.Order),
		users:    make(map[string]*user.User),
	}
}

func (s *MemoryStore) PutProduct(ctx context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

// DecrementStock applies check-and-decrement under the lock, the in-memory
// equivalent of a conditional update expression.
func (s *MemoryStore) DecrementStock(ctx context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return product.ErrProductNotFound
	}
	if p.Stock < qty {
		return ErrInsufficientStock
	}
	p.Stock -= qty
	return nil
}

func (s *MemoryStore) IncrementStock(ctx context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return product.ErrProductNotFound
	}
	p.Stock += qty
	return nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return ErrAlreadyExists
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) SaveOrder(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; !exists {
		return order.ErrOrderNotFound
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) SaveOrderFrom(ctx context.Context, o *order.Order, from order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if existing.Status != from {
		return ErrStatusConflict
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*order.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

func (s *MemoryStore) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return ErrAlreadyExists
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrAlreadyExists
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Lines = make([]order.Line, len(o.Lines))
	copy(cp.Lines, o.Lines)
	if o.EstimatedDelivery != nil {
		eta := *o.EstimatedDelivery
		cp.EstimatedDelivery = &eta
	}
	return &cp
}
