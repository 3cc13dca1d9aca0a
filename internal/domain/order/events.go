package order

import "time"

const (
	EventOrderPlaced     = "OrderPlaced"
	EventOrderCancelled  = "OrderCancelled"
	EventOrderShipped    = "OrderShipped"
	EventOrderDelivered  = "OrderDelivered"
	EventPaymentComplete = "PaymentCompleted"
)

// Event is the envelope published to Kafka on every order transition.
type Event struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

type OrderPlaced struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Lines      []Line    `json:"lines"`
	TotalCents int64     `json:"total_cents"`
	PlacedAt   time.Time `json:"placed_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type OrderShipped struct {
	OrderID           string    `json:"order_id"`
	TrackingNumber    string    `json:"tracking_number,omitempty"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	ShippedAt         time.Time `json:"shipped_at"`
}

type OrderDelivered struct {
	OrderID     string    `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type OrderPaid struct {
	OrderID            string    `json:"order_id"`
	ExternalPaymentRef string    `json:"external_payment_ref"`
	CompletedAt        time.Time `json:"completed_at"`
}
