package orders

import (
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
)

// paymentPaths lists, per payment outcome and current order status, the
// statuses the order walks through. An empty path means the outcome is
// already reflected and the event is a no-op. A missing status means the
// outcome contradicts the order and is a conflict.
var paymentPaths = map[string]map[Status][]Status{
	events.TypePaymentPending: {
		StatusCreated:          {StatusPaymentPending},
		StatusPaymentPending:   {},
		StatusPaymentCompleted: {},
		StatusPaymentFailed:    {},
		StatusConfirmed:        {},
		StatusCompleted:        {},
		StatusCancelled:        {},
	},
	events.TypePaymentCompleted: {
		StatusCreated:          {StatusPaymentPending, StatusPaymentCompleted, StatusConfirmed},
		StatusPaymentPending:   {StatusPaymentCompleted, StatusConfirmed},
		StatusPaymentCompleted: {StatusConfirmed},
		StatusConfirmed:        {},
		StatusCompleted:        {},
		// the order stays cancelled and the charge is refunded
		StatusCancelled: {},
	},
	events.TypePaymentFailed: {
		StatusCreated:        {StatusPaymentPending, StatusPaymentFailed, StatusCancelled},
		StatusPaymentPending: {StatusPaymentFailed, StatusCancelled},
		StatusPaymentFailed:  {StatusCancelled},
		StatusCancelled:      {},
	},
	events.TypePaymentCancelled: {
		StatusPaymentCompleted: {StatusConfirmed, StatusCancelled},
		StatusConfirmed:        {StatusCancelled},
		StatusCancelled:        {},
	},
}

// chargedAfterCancel reports whether ev is a charge that landed after the
// order was cancelled, by the customer or by the expirer while the payment
// request was in flight.
func chargedAfterCancel(current Status, ev PaymentEvent) bool {
	return current == StatusCancelled && ev.Type == events.TypePaymentCompleted
}

type step struct {
	to      Status
	message string
}

func planPaymentEvent(current Status, ev PaymentEvent) ([]step, error) {
	byStatus, ok := paymentPaths[ev.Type]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown payment event type %q", ev.Type))
	}
	path, ok := byStatus[current]
	if !ok {
		return nil, fmt.Errorf("%w: %s while order is %s", ErrInvalidTransition, ev.Type, current)
	}
	steps := make([]step, 0, len(path))
	for _, to := range path {
		steps = append(steps, step{to: to, message: paymentStepMessage(to, ev)})
	}
	return steps, nil
}

func paymentStepMessage(to Status, ev PaymentEvent) string {
	switch to {
	case StatusPaymentPending:
		return "payment " + ev.PaymentID + " pending"
	case StatusPaymentCompleted:
		return "payment " + ev.PaymentID + " completed, key " + ev.PaymentKey
	case StatusConfirmed:
		return "order confirmed"
	case StatusPaymentFailed:
		return "payment " + ev.PaymentID + " failed: " + ev.Reason
	case StatusCancelled:
		if ev.Type == events.TypePaymentCancelled {
			msg := "payment " + ev.PaymentID + " cancelled"
			if ev.Reason != "" {
				msg += ": " + ev.Reason
			}
			return msg
		}
		return "order cancelled after payment failure"
	}
	return string(to)
}
