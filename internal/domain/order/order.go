package order

import (
	"errors"
	"time"
)

var (
	ErrOrderNotFound            = errors.New("order not found")
	ErrEmptyOrder               = errors.New("order must have at least one line")
	ErrInvalidQuantity          = errors.New("line quantity must be at least 1")
	ErrInvalidPaymentMethod     = errors.New("invalid payment method")
	ErrIllegalTransition        = errors.New("illegal order status transition")
	ErrIllegalPaymentTransition = errors.New("illegal payment status transition")
)

// Status is the fulfillment axis of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus is the independent payment axis.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	MethodCreditCard     PaymentMethod = "credit_card"
	MethodDebitCard      PaymentMethod = "debit_card"
	MethodPayPal         PaymentMethod = "paypal"
	MethodGateway        PaymentMethod = "gateway"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

var validMethods = map[PaymentMethod]bool{
	MethodCreditCard:     true,
	MethodDebitCard:      true,
	MethodPayPal:         true,
	MethodGateway:        true,
	MethodCashOnDelivery: true,
}

// GatewayBased reports whether the method opens a remote payment intent.
func (m PaymentMethod) GatewayBased() bool {
	return m == MethodGateway
}

// DeliveryLeadTime is applied when an order enters shipped.
const DeliveryLeadTime = 7 * 24 * time.Hour

// Line is a priced order position. The unit price is captured at creation
// and never re-read from the catalog.
type Line struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Pricing holds the business constants frozen into an order at creation.
type Pricing struct {
	TaxRatePercent    int64
	ShippingFeeCents  int64
	FreeShippingAbove int64
}

// Order aggregates one order's lines, totals and both status axes.
type Order struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"user_id"`
	Lines              []Line        `json:"lines"`
	ShippingAddress    string        `json:"shipping_address"`
	SubtotalCents      int64         `json:"subtotal_cents"`
	TaxCents           int64         `json:"tax_cents"`
	ShippingCents      int64         `json:"shipping_cents"`
	TotalCents         int64         `json:"total_cents"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	Status             Status        `json:"status"`
	TrackingNumber     string        `json:"tracking_number,omitempty"`
	EstimatedDelivery  *time.Time    `json:"estimated_delivery,omitempty"`
	ExternalPaymentRef string        `json:"external_payment_ref,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// New validates the lines, computes totals once and returns a pending order.
func New(id, userID string, lines []Line, shippingAddress string, method PaymentMethod, pricing Pricing, now time.Time) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
	}
	if !validMethods[method] {
		return nil, ErrInvalidPaymentMethod
	}

	var subtotal int64
	for _, l := range lines {
		subtotal += int64(l.Quantity) * l.UnitPriceCents
	}
	tax := subtotal * pricing.TaxRatePercent / 100
	shipping := pricing.ShippingFeeCents
	if subtotal > pricing.FreeShippingAbove {
		shipping = 0
	}

	copied := make([]Line, len(lines))
	copy(copied, lines)

	return &Order{
		ID:              id,
		UserID:          userID,
		Lines:           copied,
		ShippingAddress: shippingAddress,
		SubtotalCents:   subtotal,
		TaxCents:        tax,
		ShippingCents:   shipping,
		TotalCents:      subtotal + tax + shipping,
		PaymentMethod:   method,
		PaymentStatus:   PaymentPending,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Terminal reports whether no further fulfillment transition is legal.
func (o *Order) Terminal() bool {
	return o.Status == StatusDelivered || o.Status == StatusCancelled
}

// Cancellable reports whether the owner may still cancel.
func (o *Order) Cancellable() bool {
	return o.Status == StatusPending || o.Status == StatusProcessing
}

// CompletePayment marks the payment completed against a verified gateway
// reference. Replaying an identical confirmation re-sets identical fields,
// which keeps the operation idempotent.
func (o *Order) CompletePayment(externalRef string, now time.Time) {
	o.PaymentStatus = PaymentCompleted
	o.ExternalPaymentRef = externalRef
	o.UpdatedAt = now
}
