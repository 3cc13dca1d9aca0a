package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/infrastructure/store"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// InsufficientStockError names the first product that failed its check.
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Line is one (product, quantity) pair of a reservation.
type Line struct {
	ProductID string
	Quantity  int
}

// Ledger owns per-product stock mutation. The backing store provides an
// atomic "decrement only if stock >= n" per product, but nothing spanning
// several products, so multi-line reservations compensate by releasing
// what they already took when a later line loses its race.
type Ledger struct {
	products store.ProductStore
	logger   *zap.Logger
}

func NewLedger(products store.ProductStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{products: products, logger: logger}
}

// Reserve decrements stock for every line, all or nothing. Availability is
// checked for every line before any decrement; a conditional decrement that
// still fails afterwards (a concurrent order won the race) rolls back the
// decrements already applied. On failure no stock mutation remains and the
// error names the under-stocked product.
func (l *Ledger) Reserve(ctx context.Context, lines []Line) error {
	for _, line := range lines {
		p, err := l.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if p.Stock < line.Quantity {
			return &InsufficientStockError{ProductID: line.ProductID}
		}
	}

	applied := make([]Line, 0, len(lines))
	for _, line := range lines {
		err := l.products.DecrementStock(ctx, line.ProductID, line.Quantity)
		if err == nil {
			applied = append(applied, line)
			continue
		}

		l.rollback(ctx, applied)

		if errors.Is(err, store.ErrInsufficientStock) {
			return &InsufficientStockError{ProductID: line.ProductID}
		}
		return err
	}

	return nil
}

// Release increments stock for each line by its quantity. Callers pass the
// order's own line snapshot, so only previously reserved quantities are
// ever restored.
func (l *Ledger) Release(ctx context.Context, lines []Line) error {
	for _, line := range lines {
		if err := l.products.IncrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) rollback(ctx context.Context, applied []Line) {
	for _, line := range applied {
		if err := l.products.IncrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			// Nothing the caller can do with this; the mismatch needs
			// operator attention.
			l.logger.Error("failed to roll back stock reservation",
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}
