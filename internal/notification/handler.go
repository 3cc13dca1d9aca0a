package notification

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/email"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
)

// Handler turns order lifecycle events into customer emails.
type Handler struct {
	emails   *email.Service
	users    store.UserStore
	products store.ProductStore
	orders   store.OrderStore
	logger   *zap.Logger
}

func NewHandler(emails *email.Service, st store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		emails:   emails,
		users:    st,
		products: st,
		orders:   st,
		logger:   logger,
	}
}

// envelope mirrors order.Event with the payload left raw for per-type
// decoding.
type envelope struct {
	Type       string          `json:"type"`
	OrderID    string          `json:"order_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// HandleEvent processes one consumed Kafka record. Unknown event types are
// skipped; a failed send is returned so the consumer can log it, but the
// record is never retried into a duplicate email storm.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		h.logger.Warn("failed to unmarshal event", zap.Error(err))
		return err
	}

	switch env.Type {
	case order.EventOrderPlaced:
		return h.handleOrderPlaced(ctx, env)
	case order.EventOrderCancelled:
		return h.handleOrderCancelled(ctx, env)
	case order.EventOrderShipped:
		return h.handleOrderShipped(ctx, env)
	default:
		return nil
	}
}

func (h *Handler) handleOrderPlaced(ctx context.Context, env envelope) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(env.Data, &e); err != nil {
		h.logger.Warn("failed to unmarshal OrderPlaced payload", zap.Error(err))
		return err
	}

	recipient, ok := h.recipient(ctx, e.UserID)
	if !ok {
		return nil
	}

	items := make([]email.OrderItem, len(e.Lines))
	for i, line := range e.Lines {
		name := line.ProductID
		if p, err := h.products.GetProduct(ctx, line.ProductID); err == nil {
			name = p.Name
		}
		items[i] = email.OrderItem{
			ProductID:      line.ProductID,
			Name:           name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		}
	}

	if err := h.emails.SendOrderConfirmation(recipient, e.OrderID, e.TotalCents, items); err != nil {
		h.logger.Warn("failed to send order confirmation",
			zap.String("order_id", e.OrderID), zap.Error(err))
		return err
	}

	h.logger.Info("order confirmation sent",
		zap.String("order_id", e.OrderID), zap.String("to", recipient))
	return nil
}

func (h *Handler) handleOrderCancelled(ctx context.Context, env envelope) error {
	var e order.OrderCancelled
	if err := json.Unmarshal(env.Data, &e); err != nil {
		h.logger.Warn("failed to unmarshal OrderCancelled payload", zap.Error(err))
		return err
	}

	recipient, ok := h.recipient(ctx, e.UserID)
	if !ok {
		return nil
	}

	if err := h.emails.SendOrderCancellation(recipient, e.OrderID, e.Reason); err != nil {
		h.logger.Warn("failed to send cancellation email",
			zap.String("order_id", e.OrderID), zap.Error(err))
		return err
	}

	h.logger.Info("cancellation email sent",
		zap.String("order_id", e.OrderID), zap.String("to", recipient))
	return nil
}

func (h *Handler) handleOrderShipped(ctx context.Context, env envelope) error {
	var e order.OrderShipped
	if err := json.Unmarshal(env.Data, &e); err != nil {
		h.logger.Warn("failed to unmarshal OrderShipped payload", zap.Error(err))
		return err
	}

	// The shipped payload carries no user; resolve via the order.
	o, err := h.orders.GetOrder(ctx, e.OrderID)
	if err != nil {
		h.logger.Warn("order not found for shipping notice",
			zap.String("order_id", e.OrderID), zap.Error(err))
		return nil
	}

	recipient, ok := h.recipient(ctx, o.UserID)
	if !ok {
		return nil
	}

	eta := ""
	if !e.EstimatedDelivery.IsZero() {
		eta = e.EstimatedDelivery.Format("Monday, 2 January 2006")
	}

	if err := h.emails.SendShippingNotice(recipient, e.OrderID, e.TrackingNumber, eta); err != nil {
		h.logger.Warn("failed to send shipping notice",
			zap.String("order_id", e.OrderID), zap.Error(err))
		return err
	}

	h.logger.Info("shipping notice sent",
		zap.String("order_id", e.OrderID), zap.String("to", recipient))
	return nil
}

func (h *Handler) recipient(ctx context.Context, userID string) (string, bool) {
	u, err := h.users.GetUser(ctx, userID)
	if err != nil {
		h.logger.Warn("user not found for notification",
			zap.String("user_id", userID), zap.Error(err))
		return "", false
	}
	return u.Email, true
}
