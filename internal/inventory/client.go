package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
	"github.com/ariefcatur/go-order-saga/internal/retry"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
)

// Client is the order service's view of the inventory service. Network
// failures and 5xx answers surface as apperr.ErrTransient after the retry
// budget is spent; a reservation is never reported as done unless the
// inventory service confirmed it.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Policy
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 3 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		retry:   retry.Policy{MaxAttempts: 3, Initial: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2},
	}
}

func (c *Client) GetStock(ctx context.Context, productID int64) (Product, error) {
	var p Product
	err := c.retry.OnTransient(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.productURL(productID, ""), nil)
		if err != nil {
			return err
		}
		return c.do(req, &p)
	})
	return p, err
}

// Reserve decrements stock. key makes retries of the same reservation safe.
func (c *Client) Reserve(ctx context.Context, productID int64, quantity int, key string) error {
	return c.mutate(ctx, http.MethodPut, c.stockURL(productID, "stock", quantity), key)
}

func (c *Client) Release(ctx context.Context, productID int64, quantity int, key string) error {
	return c.mutate(ctx, http.MethodPost, c.stockURL(productID, "release", quantity), key)
}

// Void undoes the reservation made under reserveKey, whether or not it was
// ever applied.
func (c *Client) Void(ctx context.Context, productID int64, reserveKey string) error {
	return c.mutate(ctx, http.MethodDelete, c.reservationURL(productID, reserveKey), "")
}

// VoidRequest builds the delivery call for a stock.void outbox message.
func (c *Client) VoidRequest(ctx context.Context, m outbox.Message) (*http.Request, error) {
	env, err := m.Envelope()
	if err != nil {
		return nil, err
	}
	var p events.StockVoidPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode stock void: %w", err)
	}
	if p.ProductID <= 0 || p.ReserveKey == "" {
		return nil, fmt.Errorf("invalid stock void for order %s", p.OrderID)
	}
	return http.NewRequestWithContext(ctx, http.MethodDelete, c.reservationURL(p.ProductID, p.ReserveKey), nil)
}

// ReleaseRequest builds the delivery call for a stock.release outbox message.
func (c *Client) ReleaseRequest(ctx context.Context, m outbox.Message) (*http.Request, error) {
	env, err := m.Envelope()
	if err != nil {
		return nil, err
	}
	var p events.StockReleasePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode stock release: %w", err)
	}
	if p.ProductID <= 0 || p.Quantity <= 0 {
		return nil, fmt.Errorf("invalid stock release for order %s", p.OrderID)
	}
	return http.NewRequestWithContext(ctx, http.MethodPost, c.stockURL(p.ProductID, "release", p.Quantity), nil)
}

func (c *Client) mutate(ctx context.Context, method, u, key string) error {
	return c.retry.OnTransient(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return err
		}
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		return c.do(req, nil)
	})
}

func (c *Client) productURL(id int64, suffix string) string {
	u := c.baseURL + "/products/" + strconv.FormatInt(id, 10)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

func (c *Client) reservationURL(id int64, key string) string {
	return c.productURL(id, "reservations/"+url.PathEscape(key))
}

func (c *Client) stockURL(id int64, action string, quantity int) string {
	return c.productURL(id, action) + "?" + url.Values{"quantity": {strconv.Itoa(quantity)}}.Encode()
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(req *http.Request, out any) error {
	tracing.InjectHTTP(req.Context(), req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(req.Context().Err(), context.Canceled) {
			return err
		}
		return apperr.Transient("inventory unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode inventory response: %w", err)
		}
		return nil
	}

	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}
	switch {
	case body.Code == CodeInsufficientStock:
		return ErrInsufficientStock
	case resp.StatusCode == http.StatusNotFound:
		return ErrProductNotFound
	case resp.StatusCode == http.StatusConflict:
		return apperr.Conflict(msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Transient("inventory", errors.New(msg))
	default:
		return apperr.Validation(msg)
	}
}
