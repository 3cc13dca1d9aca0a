package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPricing = Pricing{
	TaxRatePercent:    18,
	ShippingFeeCents:  10000,
	FreeShippingAbove: 100000,
}

func newTestOrder(t *testing.T, lines []Line) *Order {
	t.Helper()
	o, err := New("order-1", "user-1", lines, "1 Main St", MethodGateway, testPricing, time.Now().UTC())
	require.NoError(t, err)
	return o
}

// ============================================
// Creation & totals
// ============================================

func TestNew_ComputesTotals(t *testing.T) {
	o := newTestOrder(t, []Line{
		{ProductID: "p1", Quantity: 2, UnitPriceCents: 5000},
		{ProductID: "p2", Quantity: 1, UnitPriceCents: 20000},
	})

	assert.Equal(t, int64(30000), o.SubtotalCents)
	assert.Equal(t, int64(5400), o.TaxCents) // 18%
	assert.Equal(t, int64(10000), o.ShippingCents)
	assert.Equal(t, o.SubtotalCents+o.TaxCents+o.ShippingCents, o.TotalCents)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
}

func TestNew_FreeShippingAboveThreshold(t *testing.T) {
	o := newTestOrder(t, []Line{
		{ProductID: "p1", Quantity: 3, UnitPriceCents: 50000},
	})

	assert.Equal(t, int64(150000), o.SubtotalCents)
	assert.Equal(t, int64(0), o.ShippingCents)
}

func TestNew_EmptyLines(t *testing.T) {
	_, err := New("order-1", "user-1", nil, "", MethodGateway, testPricing, time.Now())
	assert.ErrorIs(t, err, ErrEmptyOrder)
}

func TestNew_InvalidQuantity(t *testing.T) {
	_, err := New("order-1", "user-1", []Line{{ProductID: "p1", Quantity: 0, UnitPriceCents: 100}},
		"", MethodGateway, testPricing, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestNew_InvalidPaymentMethod(t *testing.T) {
	_, err := New("order-1", "user-1", []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}},
		"", PaymentMethod("check"), testPricing, time.Now())
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestNew_CopiesLines(t *testing.T) {
	lines := []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}}
	o := newTestOrder(t, lines)

	// Later catalog price changes must not touch the snapshot.
	lines[0].UnitPriceCents = 999
	assert.Equal(t, int64(100), o.Lines[0].UnitPriceCents)
}

// ============================================
// Fulfillment state machine
// ============================================

func TestTransition_LegalPath(t *testing.T) {
	o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})
	now := time.Now().UTC()

	require.NoError(t, o.Transition(StatusProcessing, now))
	require.NoError(t, o.Transition(StatusShipped, now))
	require.NoError(t, o.Transition(StatusDelivered, now))
	assert.True(t, o.Terminal())
}

func TestTransition_ShippedStampsEstimatedDelivery(t *testing.T) {
	o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, o.Transition(StatusProcessing, now))
	require.NoError(t, o.Transition(StatusShipped, now))

	require.NotNil(t, o.EstimatedDelivery)
	assert.Equal(t, now.Add(7*24*time.Hour), *o.EstimatedDelivery)
}

func TestTransition_CancelFromPendingAndProcessing(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusProcessing} {
		o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})
		if from == StatusProcessing {
			require.NoError(t, o.Transition(StatusProcessing, time.Now()))
		}
		assert.NoError(t, o.Transition(StatusCancelled, time.Now()))
	}
}

func TestTransition_IllegalEdges(t *testing.T) {
	cases := []struct {
		name string
		path []Status
		to   Status
	}{
		{"pending to shipped", nil, StatusShipped},
		{"pending to delivered", nil, StatusDelivered},
		{"shipped to cancelled", []Status{StatusProcessing, StatusShipped}, StatusCancelled},
		{"delivered to cancelled", []Status{StatusProcessing, StatusShipped, StatusDelivered}, StatusCancelled},
		{"cancelled to processing", []Status{StatusCancelled}, StatusProcessing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})
			for _, s := range tc.path {
				require.NoError(t, o.Transition(s, time.Now()))
			}

			err := o.Transition(tc.to, time.Now())
			assert.ErrorIs(t, err, ErrIllegalTransition)

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.to, te.To)
		})
	}
}

func TestTransition_TotalsFrozenAcrossTransitions(t *testing.T) {
	o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 2, UnitPriceCents: 5000}})
	total := o.TotalCents

	require.NoError(t, o.Transition(StatusProcessing, time.Now()))
	require.NoError(t, o.Transition(StatusShipped, time.Now()))

	assert.Equal(t, total, o.TotalCents)
	assert.Equal(t, o.SubtotalCents+o.TaxCents+o.ShippingCents, o.TotalCents)
}

// ============================================
// Payment axis
// ============================================

func TestTransitionPayment_Legal(t *testing.T) {
	o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})
	now := time.Now().UTC()

	require.NoError(t, o.TransitionPayment(PaymentCompleted, now))
	require.NoError(t, o.TransitionPayment(PaymentRefunded, now))
}

func TestTransitionPayment_Illegal(t *testing.T) {
	o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})

	err := o.TransitionPayment(PaymentRefunded, time.Now())
	assert.ErrorIs(t, err, ErrIllegalPaymentTransition)

	require.NoError(t, o.TransitionPayment(PaymentFailed, time.Now()))
	err = o.TransitionPayment(PaymentCompleted, time.Now())
	assert.ErrorIs(t, err, ErrIllegalPaymentTransition)
}

func TestTransitionPayment_SameStatusIsNoop(t *testing.T) {
	o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})
	require.NoError(t, o.TransitionPayment(PaymentCompleted, time.Now()))
	assert.NoError(t, o.TransitionPayment(PaymentCompleted, time.Now()))
}

// The paid-event payload and the payment-status constant must coexist in
// this package under distinct names.
func TestOrderPaidEventEnvelope(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := Event{
		Type:       EventPaymentComplete,
		OrderID:    "order-1",
		OccurredAt: now,
		Data: OrderPaid{
			OrderID:            "order-1",
			ExternalPaymentRef: "pay_abc",
			CompletedAt:        now,
		},
	}

	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"PaymentCompleted"`)
	assert.Contains(t, string(b), `"external_payment_ref":"pay_abc"`)
	assert.Equal(t, PaymentStatus("completed"), PaymentCompleted)
}

func TestCompletePayment_Idempotent(t *testing.T) {
	o := newTestOrder(t, []Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 100}})
	now := time.Now().UTC()

	o.CompletePayment("pay_123", now)
	first := *o

	o.CompletePayment("pay_123", now)
	assert.Equal(t, first.PaymentStatus, o.PaymentStatus)
	assert.Equal(t, first.ExternalPaymentRef, o.ExternalPaymentRef)
}
