package events

import (
	"encoding/json"
	"time"
)

const (
	TypePaymentRequested = "payment.requested"
	TypePaymentPending   = "payment.pending"
	TypePaymentCompleted = "payment.completed"
	TypePaymentFailed    = "payment.failed"
	TypePaymentCancelled = "payment.cancelled"
	TypeRefundRequested  = "payment.refund_requested"
	TypeStockRelease     = "stock.release"
	TypeStockVoid        = "stock.void"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// IsPaymentOutcome reports whether t is one of the notifications the payment
// service sends back to the order service.
func IsPaymentOutcome(t string) bool {
	switch t {
	case TypePaymentPending, TypePaymentCompleted, TypePaymentFailed, TypePaymentCancelled:
		return true
	}
	return false
}

// OutcomeEventID is the stable identity of a payment notification: one per
// payment and outcome kind, so redelivery can be deduplicated.
func OutcomeEventID(paymentID, eventType string) string {
	return paymentID + ":" + eventType
}

func PaymentRequestEventID(orderID string) string { return orderID + ":" + TypePaymentRequested }

func StockReleaseEventID(orderID string) string { return orderID + ":" + TypeStockRelease }

// RefundRequestEventID is keyed by payment: a payment is refunded at most once.
func RefundRequestEventID(paymentID string) string { return paymentID + ":" + TypeRefundRequested }

func StockVoidEventID(reserveKey string) string { return reserveKey + ":" + TypeStockVoid }

// ---- payloads ----

type PaymentRequestedPayload struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id,omitempty"`
	Amount     string `json:"amount"`
	Method     string `json:"method"`
	CardNumber string `json:"card_number,omitempty"`
	CardExpiry string `json:"card_expiry,omitempty"`
	CardCvc    string `json:"card_cvc,omitempty"`
}

type PaymentOutcomePayload struct {
	PaymentID  string    `json:"payment_id"`
	OrderID    string    `json:"order_id"`
	PaymentKey string    `json:"payment_key,omitempty"`
	Method     string    `json:"method,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

type RefundRequestedPayload struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// StockVoidPayload undoes the reservation made under ReserveKey, if it was
// made at all.
type StockVoidPayload struct {
	OrderID    string `json:"order_id"`
	ProductID  int64  `json:"product_id"`
	ReserveKey string `json:"reserve_key"`
}

type StockReleasePayload struct {
	OrderID   string `json:"order_id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
