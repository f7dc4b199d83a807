package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
)

var outcomePaths = map[string]string{
	events.TypePaymentPending:   "pending",
	events.TypePaymentCompleted: "complete",
	events.TypePaymentFailed:    "fail",
	events.TypePaymentCancelled: "cancel",
}

// OutcomeNotice is the body of PUT /orders/{id}/payment/{kind}.
type OutcomeNotice struct {
	EventID    string `json:"event_id"`
	PaymentID  string `json:"payment_id"`
	PaymentKey string `json:"payment_key,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// OutcomeRequestBuilder delivers payment outcome messages to the order
// service over HTTP. The order service dedups on event_id, so the relay may
// resend after a lost response.
func OutcomeRequestBuilder(orderServiceURL string) outbox.RequestBuilder {
	return func(ctx context.Context, m outbox.Message) (*http.Request, error) {
		kind, ok := outcomePaths[m.Type]
		if !ok {
			return nil, fmt.Errorf("no order endpoint for %s", m.Type)
		}
		env, err := m.Envelope()
		if err != nil {
			return nil, err
		}
		var p events.PaymentOutcomePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode payment outcome: %w", err)
		}
		body, err := json.Marshal(OutcomeNotice{
			EventID:    m.EventID,
			PaymentID:  p.PaymentID,
			PaymentKey: p.PaymentKey,
			Reason:     p.Reason,
		})
		if err != nil {
			return nil, err
		}
		u := orderServiceURL + "/orders/" + url.PathEscape(p.OrderID) + "/payment/" + kind
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}
