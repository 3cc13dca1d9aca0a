package order

import (
	"fmt"
	"time"
)

// validTransitions defines the fulfillment state machine. Delivered and
// cancelled are terminal.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// validPaymentTransitions defines the independent payment axis.
var validPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentCompleted: {PaymentRefunded},
	PaymentFailed:    {},
	PaymentRefunded:  {},
}

// TransitionError reports a rejected fulfillment transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// PaymentTransitionError reports a rejected payment-status transition.
type PaymentTransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *PaymentTransitionError) Error() string {
	return fmt.Sprintf("cannot transition payment from %s to %s", e.From, e.To)
}

func (e *PaymentTransitionError) Unwrap() error { return ErrIllegalPaymentTransition }

// CanTransitionTo checks if the order can move to the target status.
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// Transition moves the order to the target status, applying the
// status-specific side effects. Entering shipped stamps the estimated
// delivery date.
func (o *Order) Transition(target Status, now time.Time) error {
	if !o.CanTransitionTo(target) {
		return &TransitionError{From: o.Status, To: target}
	}

	o.Status = target
	o.UpdatedAt = now

	if target == StatusShipped {
		eta := now.Add(DeliveryLeadTime)
		o.EstimatedDelivery = &eta
	}

	return nil
}

// TransitionPayment moves the payment axis, rejecting anything outside
// pending→completed|failed and completed→refunded.
func (o *Order) TransitionPayment(target PaymentStatus, now time.Time) error {
	if o.PaymentStatus == target {
		return nil
	}
	allowed := validPaymentTransitions[o.PaymentStatus]
	for _, s := range allowed {
		if s == target {
			o.PaymentStatus = target
			o.UpdatedAt = now
			return nil
		}
	}
	return &PaymentTransitionError{From: o.PaymentStatus, To: target}
}
