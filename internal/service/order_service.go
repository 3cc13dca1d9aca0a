package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/domain/inventory"
	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/infrastructure/redisx"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
	"github.com/example/ec-order-engine/internal/metrics"
	"github.com/example/ec-order-engine/internal/payment"
)

// ErrForbidden is returned when the requester does not own the resource
// and is not an admin.
var ErrForbidden = errors.New("access denied")

// EventPublisher publishes order lifecycle events, keyed by order ID.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// StatusNotifier pushes status changes to the realtime side channel.
type StatusNotifier interface {
	Set(ctx context.Context, upd redisx.StatusUpdate) error
}

// LineInput is one requested position of a new order.
type LineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderInput carries everything CreateOrder needs besides the owner.
type CreateOrderInput struct {
	Lines           []LineInput         `json:"lines"`
	ShippingAddress string              `json:"shipping_address"`
	PaymentMethod   order.PaymentMethod `json:"payment_method"`
}

// OrderService orchestrates order creation, cancellation, status updates
// and payment confirmation over the ledger, the stores and the gateway.
type OrderService struct {
	orders   store.OrderStore
	products store.ProductStore
	ledger   *inventory.Ledger
	gateway  payment.GatewayClient
	verifier *payment.Verifier
	producer EventPublisher
	status   StatusNotifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	pricing  order.Pricing
	currency string
	now      func() time.Time
}

// Options configures an OrderService. Producer and Status are optional;
// everything else is required.
type Options struct {
	Orders   store.OrderStore
	Products store.ProductStore
	Ledger   *inventory.Ledger
	Gateway  payment.GatewayClient
	Verifier *payment.Verifier
	Producer EventPublisher
	Status   StatusNotifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Pricing  order.Pricing
	Currency string
	Now      func() time.Time
}

func NewOrderService(opts Options) *OrderService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &OrderService{
		orders:   opts.Orders,
		products: opts.Products,
		ledger:   opts.Ledger,
		gateway:  opts.Gateway,
		verifier: opts.Verifier,
		producer: opts.Producer,
		status:   opts.Status,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		pricing:  opts.Pricing,
		currency: opts.Currency,
		now:      opts.Now,
	}
}

// CreateOrder validates the request, reserves stock, persists the order
// and, for gateway-based payment methods, opens a remote payment intent.
//
// A gateway failure after the order is persisted is returned alongside the
// order: stock stays reserved and the client retries payment against the
// same order instead of re-reserving.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, in CreateOrderInput) (*order.Order, *payment.Intent, error) {
	if len(in.Lines) == 0 {
		return nil, nil, order.ErrEmptyOrder
	}
	for _, l := range in.Lines {
		if l.Quantity < 1 {
			return nil, nil, order.ErrInvalidQuantity
		}
	}

	// Capture unit prices at order time; the snapshot never changes even
	// if the catalog does.
	lines := make([]order.Line, 0, len(in.Lines))
	for _, l := range in.Lines {
		p, err := s.products.GetProduct(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrProductNotFound) {
				return nil, nil, fmt.Errorf("%w: %s", product.ErrProductNotFound, l.ProductID)
			}
			return nil, nil, err
		}
		if !p.Active {
			return nil, nil, fmt.Errorf("%w: %s", product.ErrProductNotFound, l.ProductID)
		}
		lines = append(lines, order.Line{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: p.PriceCents,
		})
	}

	if err := s.ledger.Reserve(ctx, reservationLines(lines)); err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			s.metrics.ReservationConflicts.Inc()
		}
		return nil, nil, err
	}

	now := s.now()
	o, err := order.New(uuid.New().String(), userID, lines, in.ShippingAddress, in.PaymentMethod, s.pricing, now)
	if err != nil {
		// Validation failed after reservation; give the stock back.
		s.release(ctx, lines)
		return nil, nil, err
	}

	if err := s.orders.CreateOrder(ctx, o); err != nil {
		s.release(ctx, lines)
		return nil, nil, err
	}

	s.metrics.OrdersCreated.Inc()
	s.publish(ctx, o.ID, order.Event{
		Type:       order.EventOrderPlaced,
		OrderID:    o.ID,
		OccurredAt: now,
		Data: order.OrderPlaced{
			OrderID:    o.ID,
			UserID:     o.UserID,
			Lines:      o.Lines,
			TotalCents: o.TotalCents,
			PlacedAt:   now,
		},
	})
	s.notifyStatus(ctx, o)

	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", userID),
		zap.Int64("total_cents", o.TotalCents))

	if !o.PaymentMethod.GatewayBased() {
		return o, nil, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, o.TotalCents, s.currency, o.ID)
	if err != nil {
		// Partial-failure window: the order exists in pending with its
		// stock held. Surface the failure so the caller can retry
		// payment against the same order.
		s.metrics.GatewayFailures.Inc()
		s.logger.Warn("payment intent creation failed",
			zap.String("order_id", o.ID),
			zap.Error(err))
		return o, nil, err
	}

	o.ExternalPaymentRef = intent.ID
	o.UpdatedAt = s.now()
	if err := s.orders.SaveOrder(ctx, o); err != nil {
		return o, intent, err
	}

	return o, intent, nil
}

// CancelOrder cancels an order on behalf of its owner and releases the
// reserved stock. The terminal status persisted before the release makes a
// retried cancellation fail the transition instead of releasing twice, and
// the status-conditional save extends that guarantee to concurrent cancels
// racing on the same order.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, requesterID, reason string) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != requesterID {
		return nil, ErrForbidden
	}

	now := s.now()
	prev := o.Status
	if err := o.Transition(order.StatusCancelled, now); err != nil {
		return nil, err
	}
	if err := s.orders.SaveOrderFrom(ctx, o, prev); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, s.transitionConflict(ctx, orderID, order.StatusCancelled)
		}
		return nil, err
	}

	if err := s.ledger.Release(ctx, reservationLines(o.Lines)); err != nil {
		return nil, fmt.Errorf("order cancelled but stock release failed: %w", err)
	}

	s.metrics.OrdersCancelled.Inc()
	s.publish(ctx, o.ID, order.Event{
		Type:       order.EventOrderCancelled,
		OrderID:    o.ID,
		OccurredAt: now,
		Data: order.OrderCancelled{
			OrderID:     o.ID,
			UserID:      o.UserID,
			Reason:      reason,
			CancelledAt: now,
		},
	})
	s.notifyStatus(ctx, o)

	s.logger.Info("order cancelled",
		zap.String("order_id", o.ID),
		zap.String("user_id", requesterID))

	return o, nil
}

// StatusUpdateInput is the admin status-update request.
type StatusUpdateInput struct {
	Status         order.Status         `json:"status"`
	PaymentStatus  *order.PaymentStatus `json:"payment_status,omitempty"`
	TrackingNumber string               `json:"tracking_number,omitempty"`
}

// UpdateStatus drives the fulfillment state machine on behalf of an
// admin. Entering cancelled through this path releases stock the same way
// an owner cancellation does.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, in StatusUpdateInput) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	prev := o.Status
	statusChanged := in.Status != "" && in.Status != o.Status
	if statusChanged {
		if err := o.Transition(in.Status, now); err != nil {
			return nil, err
		}
	}
	if in.PaymentStatus != nil {
		if err := o.TransitionPayment(*in.PaymentStatus, now); err != nil {
			return nil, err
		}
	}
	if in.TrackingNumber != "" {
		o.TrackingNumber = in.TrackingNumber
		o.UpdatedAt = now
	}

	if statusChanged {
		if err := s.orders.SaveOrderFrom(ctx, o, prev); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				return nil, s.transitionConflict(ctx, orderID, in.Status)
			}
			return nil, err
		}
	} else {
		if err := s.orders.SaveOrder(ctx, o); err != nil {
			return nil, err
		}
	}

	if statusChanged && o.Status == order.StatusCancelled {
		if err := s.ledger.Release(ctx, reservationLines(o.Lines)); err != nil {
			return nil, fmt.Errorf("order cancelled but stock release failed: %w", err)
		}
	}

	if statusChanged {
		s.publishStatusEvent(ctx, o, now)
	}
	s.notifyStatus(ctx, o)

	return o, nil
}

// ConfirmPayment authenticates a gateway confirmation and marks the order
// paid. A forged signature leaves the order untouched; replaying a valid
// confirmation re-applies identical fields and nothing else.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID, paymentRef, signature string) (*order.Order, error) {
	if err := s.verifier.Verify(orderID, paymentRef, signature); err != nil {
		s.metrics.PaymentVerifications.WithLabelValues("rejected").Inc()
		s.logger.Warn("payment confirmation rejected", zap.String("order_id", orderID))
		return nil, err
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o.CompletePayment(paymentRef, now)
	if err := s.orders.SaveOrder(ctx, o); err != nil {
		return nil, err
	}

	s.metrics.PaymentVerifications.WithLabelValues("verified").Inc()
	s.publish(ctx, o.ID, order.Event{
		Type:       order.EventPaymentComplete,
		OrderID:    o.ID,
		OccurredAt: now,
		Data: order.OrderPaid{
			OrderID:            o.ID,
			ExternalPaymentRef: paymentRef,
			CompletedAt:        now,
		},
	})
	s.notifyStatus(ctx, o)

	s.logger.Info("payment confirmed",
		zap.String("order_id", o.ID),
		zap.String("payment_ref", paymentRef))

	return o, nil
}

// GetOrder returns an order to its owner or to an admin.
func (s *OrderService) GetOrder(ctx context.Context, orderID, requesterID string, isAdmin bool) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != requesterID && !isAdmin {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListOrders returns the requester's own orders.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*order.Order, error) {
	return s.orders.ListOrdersByUser(ctx, userID)
}

// ListAllOrders returns every order; admin only, enforced by the caller.
func (s *OrderService) ListAllOrders(ctx context.Context) ([]*order.Order, error) {
	return s.orders.ListOrders(ctx)
}

// PurgeUserOrders removes a user's orders as part of an account deletion.
// Orders still holding a reservation are cancelled first so their stock
// returns to the catalog. Shipped stock has physically left the warehouse
// and terminal orders are already settled, so both delete without touching
// the catalog.
func (s *OrderService) PurgeUserOrders(ctx context.Context, userID string) (int, error) {
	orders, err := s.orders.ListOrdersByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, o := range orders {
		if o.Cancellable() {
			now := s.now()
			prev := o.Status
			if err := o.Transition(order.StatusCancelled, now); err != nil {
				return deleted, err
			}
			if err := s.orders.SaveOrderFrom(ctx, o, prev); err != nil {
				return deleted, err
			}
			if err := s.ledger.Release(ctx, reservationLines(o.Lines)); err != nil {
				return deleted, fmt.Errorf("order cancelled but stock release failed: %w", err)
			}
		}
		if err := s.orders.DeleteOrder(ctx, o.ID); err != nil {
			return deleted, err
		}
		deleted++
	}

	s.logger.Info("user orders purged",
		zap.String("user_id", userID),
		zap.Int("deleted", deleted))

	return deleted, nil
}

// transitionConflict turns a lost conditional save into the transition
// error a fresh read would have produced.
func (s *OrderService) transitionConflict(ctx context.Context, orderID string, to order.Status) error {
	cur, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return &order.TransitionError{From: cur.Status, To: to}
}

func (s *OrderService) publishStatusEvent(ctx context.Context, o *order.Order, now time.Time) {
	switch o.Status {
	case order.StatusShipped:
		var eta time.Time
		if o.EstimatedDelivery != nil {
			eta = *o.EstimatedDelivery
		}
		s.publish(ctx, o.ID, order.Event{
			Type:       order.EventOrderShipped,
			OrderID:    o.ID,
			OccurredAt: now,
			Data: order.OrderShipped{
				OrderID:           o.ID,
				TrackingNumber:    o.TrackingNumber,
				EstimatedDelivery: eta,
				ShippedAt:         now,
			},
		})
	case order.StatusDelivered:
		s.publish(ctx, o.ID, order.Event{
			Type:       order.EventOrderDelivered,
			OrderID:    o.ID,
			OccurredAt: now,
			Data:       order.OrderDelivered{OrderID: o.ID, DeliveredAt: now},
		})
	case order.StatusCancelled:
		s.publish(ctx, o.ID, order.Event{
			Type:       order.EventOrderCancelled,
			OrderID:    o.ID,
			OccurredAt: now,
			Data:       order.OrderCancelled{OrderID: o.ID, UserID: o.UserID, CancelledAt: now},
		})
	}
}

// publish is best effort; losing a notification must not fail the
// operation that already committed.
func (s *OrderService) publish(ctx context.Context, key string, event order.Event) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, key, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", event.Type),
			zap.String("order_id", key),
			zap.Error(err))
	}
}

func (s *OrderService) notifyStatus(ctx context.Context, o *order.Order) {
	if s.status == nil {
		return
	}
	err := s.status.Set(ctx, redisx.StatusUpdate{
		OrderID:       o.ID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		UpdatedAt:     o.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to update status cache",
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
}

func (s *OrderService) release(ctx context.Context, lines []order.Line) {
	if err := s.ledger.Release(ctx, reservationLines(lines)); err != nil {
		s.logger.Error("failed to release reservation", zap.Error(err))
	}
}

func reservationLines(lines []order.Line) []inventory.Line {
	out := make([]inventory.Line, len(lines))
	for i, l := range lines {
		out[i] = inventory.Line{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return out
}
