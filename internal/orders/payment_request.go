package orders

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

// PaymentRequestBuilder delivers payment.requested messages as POST
// /payments calls when the services talk HTTP instead of kafka. The body is
// the event payload.
func PaymentRequestBuilder(paymentServiceURL string) outbox.RequestBuilder {
	return func(ctx context.Context, m outbox.Message) (*http.Request, error) {
		env, err := m.Envelope()
		if err != nil {
			return nil, err
		}
		if !json.Valid(env.Payload) {
			return nil, fmt.Errorf("payment request %s: invalid payload", m.EventID)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, paymentServiceURL+"/payments", bytes.NewReader(env.Payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

// RefundRequestBuilder delivers payment.refund_requested messages as POST
// /payments/{id}/refund calls. The payment service answers a repeated refund
// with the cancelled payment, so redelivery is safe.
func RefundRequestBuilder(paymentServiceURL string) outbox.RequestBuilder {
	return func(ctx context.Context, m outbox.Message) (*http.Request, error) {
		env, err := m.Envelope()
		if err != nil {
			return nil, err
		}
		var p events.RefundRequestedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("refund request %s: %w", m.EventID, err)
		}
		if p.PaymentID == "" {
			return nil, fmt.Errorf("refund request %s: missing payment id", m.EventID)
		}
		body, err := json.Marshal(map[string]string{"reason": p.Reason})
		if err != nil {
			return nil, err
		}
		u := paymentServiceURL + "/payments/" + url.PathEscape(p.PaymentID) + "/refund"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}
