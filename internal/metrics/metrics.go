package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the order engine's Prometheus collectors.
type Metrics struct {
	OrdersCreated        prometheus.Counter
	OrdersCancelled      prometheus.Counter
	ReservationConflicts prometheus.Counter
	PaymentVerifications *prometheus.CounterVec
	GatewayFailures      prometheus.Counter
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "order_engine",
			Name:      "orders_created_total",
			Help:      "Orders successfully created.",
		}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "order_engine",
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled by their owner.",
		}),
		ReservationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "order_engine",
			Name:      "reservation_conflicts_total",
			Help:      "Stock reservations rejected for insufficient stock.",
		}),
		PaymentVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_engine",
			Name:      "payment_verifications_total",
			Help:      "Payment confirmation attempts by outcome.",
		}, []string{"outcome"}),
		GatewayFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "order_engine",
			Name:      "gateway_failures_total",
			Help:      "Payment gateway calls that failed.",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
