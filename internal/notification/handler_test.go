package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/email"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
)

func newTestHandler() *Handler {
	// The SMTP address is never dialed in these tests; every path exits
	// before a send.
	svc := email.NewService("localhost", "1", "noreply@example.com")
	return NewHandler(svc, store.NewMemoryStore(), nil)
}

func TestHandleEvent_MalformedPayload(t *testing.T) {
	h := newTestHandler()
	err := h.HandleEvent(context.Background(), []byte("key"), []byte("not json"))
	assert.Error(t, err)
}

func TestHandleEvent_UnknownTypeSkipped(t *testing.T) {
	h := newTestHandler()
	value, err := json.Marshal(order.Event{
		Type:       "SomethingElse",
		OrderID:    "order-1",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	assert.NoError(t, h.HandleEvent(context.Background(), []byte("order-1"), value))
}

func TestHandleEvent_UnknownUserSkipped(t *testing.T) {
	h := newTestHandler()
	value, err := json.Marshal(order.Event{
		Type:    order.EventOrderPlaced,
		OrderID: "order-1",
		Data: order.OrderPlaced{
			OrderID:    "order-1",
			UserID:     "ghost",
			TotalCents: 10000,
		},
	})
	require.NoError(t, err)

	// A missing recipient is not an error worth redelivering.
	assert.NoError(t, h.HandleEvent(context.Background(), []byte("order-1"), value))
}

func TestHandleEvent_ShippedWithoutOrderSkipped(t *testing.T) {
	h := newTestHandler()
	value, err := json.Marshal(order.Event{
		Type:    order.EventOrderShipped,
		OrderID: "order-1",
		Data:    order.OrderShipped{OrderID: "order-1", TrackingNumber: "TRACK-1"},
	})
	require.NoError(t, err)

	assert.NoError(t, h.HandleEvent(context.Background(), []byte("order-1"), value))
}
