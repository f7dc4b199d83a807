package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
)

var ErrOrderNotFound = fmt.Errorf("%w: order", apperr.ErrNotFound)

type Order struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	ProductID  int64     `json:"product_id"`
	Quantity   int       `json:"quantity"`
	Status     Status    `json:"status"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HistoryEntry is one audited status change. PreviousStatus is empty for the
// entry that records creation.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	OrderID        string    `json:"order_id"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	NewStatus      Status    `json:"new_status"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

type CreateRequest struct {
	// ExternalID makes creation idempotent when set.
	ExternalID string
	ProductID  int64
	Quantity   int
	// Payment, when present, is forwarded to the payment service once the
	// order is durable.
	Payment *PaymentRequest
}

type PaymentRequest struct {
	UserID     string
	Amount     decimal.Decimal
	Method     string
	CardNumber string
	CardExpiry string
	CardCvc    string
}

// PaymentEvent is a payment outcome reported by the payment service.
type PaymentEvent struct {
	EventID    string
	Type       string
	PaymentID  string
	OrderID    string
	PaymentKey string
	Reason     string
}

// Update is one versioned write: the order's new state (Version holds the
// version it was read at), the history it appends and the outbox messages
// committed with it. A non-empty EventID is recorded as processed in the
// same transaction.
type Update struct {
	Order   Order
	Entries []HistoryEntry
	EventID string
	Outbox  []outbox.Message
}
