package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-saga/internal/clock"
)

const DeclineCardDeclined = "CARD_DECLINED"

var ErrUnknownPaymentKey = errors.New("unknown payment key")

type ChargeRequest struct {
	PaymentID  string
	OrderID    string
	Amount     decimal.Decimal
	Method     Method
	Instrument Instrument
}

// ChargeResult is the gateway's answer. A decline is a result, not an error;
// errors mean the gateway could not be asked.
type ChargeResult struct {
	Approved      bool
	PaymentKey    string
	DeclineReason string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Reverse(ctx context.Context, paymentKey string) error
}

// MockGateway approves everything except cards ending in "0000".
type MockGateway struct {
	clock clock.Clock

	mu      sync.Mutex
	charges map[string]bool // key -> reversed
}

func NewMockGateway(clk clock.Clock) *MockGateway {
	return &MockGateway{clock: clk, charges: map[string]bool{}}
}

func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}
	if req.Method == MethodCard && strings.HasSuffix(req.Instrument.CardNumber, "0000") {
		return ChargeResult{DeclineReason: DeclineCardDeclined}, nil
	}
	key := fmt.Sprintf("PAY-%d-%s", g.clock.Now().UnixMilli(), uuid.NewString()[:8])
	g.mu.Lock()
	g.charges[key] = false
	g.mu.Unlock()
	return ChargeResult{Approved: true, PaymentKey: key}, nil
}

// Reverse refunds a charge. Reversing twice is fine.
func (g *MockGateway) Reverse(ctx context.Context, paymentKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.charges[paymentKey]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPaymentKey, paymentKey)
	}
	g.charges[paymentKey] = true
	return nil
}
