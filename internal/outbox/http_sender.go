package outbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/tracing"
)

// RequestBuilder turns a message into the HTTP call that delivers it.
type RequestBuilder func(ctx context.Context, m Message) (*http.Request, error)

type HTTPSender struct {
	client *http.Client
	build  RequestBuilder
}

func NewHTTPSender(client *http.Client, build RequestBuilder) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSender{client: client, build: build}
}

// Send treats 2xx as delivered. 408, 429 and 5xx are retried; any other 4xx
// is permanent.
func (s *HTTPSender) Send(ctx context.Context, m Message) error {
	ctx = tracing.WithTraceparent(ctx, m.Traceparent)
	req, err := s.build(ctx, m)
	if err != nil {
		return Permanent(fmt.Errorf("build request for %s: %w", m.EventID, err))
	}
	req.Header.Set("Idempotency-Key", m.EventID)
	req.Header.Set("X-Event-Id", m.EventID)
	tracing.InjectHTTP(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", m.EventID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("deliver %s: status %d: %s", m.EventID, resp.StatusCode, body)
	default:
		return Permanent(fmt.Errorf("deliver %s: status %d: %s", m.EventID, resp.StatusCode, body))
	}
}
