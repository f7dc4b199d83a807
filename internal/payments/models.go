package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
)

var ErrPaymentNotFound = fmt.Errorf("%w: payment", apperr.ErrNotFound)

type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        Method          `json:"method"`
	Status        Status          `json:"status"`
	PaymentKey    string          `json:"payment_key,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}

// Instrument carries card details. It is never persisted.
type Instrument struct {
	CardNumber string
	CardExpiry string
	CardCvc    string
}

type ProcessRequest struct {
	OrderID    string
	UserID     string
	Amount     decimal.Decimal
	Method     Method
	Instrument Instrument
}

// RequestFromPayload turns a payment.requested payload, as carried on kafka
// or posted to /payments, into a ProcessRequest.
func RequestFromPayload(p events.PaymentRequestedPayload) (ProcessRequest, error) {
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return ProcessRequest{}, apperr.Validation("amount must be a decimal number")
	}
	return ProcessRequest{
		OrderID: p.OrderID,
		UserID:  p.UserID,
		Amount:  amount,
		Method:  Method(strings.ToUpper(p.Method)),
		Instrument: Instrument{
			CardNumber: p.CardNumber,
			CardExpiry: p.CardExpiry,
			CardCvc:    p.CardCvc,
		},
	}, nil
}
