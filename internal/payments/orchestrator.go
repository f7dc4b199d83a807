package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/clock"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
	"github.com/ariefcatur/go-order-saga/internal/retry"
)

type Repository interface {
	// Insert stores p with msgs in one transaction. It fails with
	// apperr.ErrDuplicate when the order already has a payment that is not
	// cancelled.
	Insert(ctx context.Context, p Payment, msgs []outbox.Message) error
	Get(ctx context.Context, id string) (Payment, error)
	ActiveForOrder(ctx context.Context, orderID string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Payment, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Payment, error)
	// Update writes p if the stored row still has p.Version and status from,
	// and fails with apperr.ErrStaleVersion otherwise.
	Update(ctx context.Context, p Payment, from Status, msgs []outbox.Message) error
}

// Orchestrator owns the payment lifecycle. Every state change commits
// together with the outbox message that tells the order service about it.
type Orchestrator struct {
	repo          Repository
	gateway       Gateway
	clock         clock.Clock
	log           *zap.Logger
	service       string
	chargeTimeout time.Duration
}

func NewOrchestrator(repo Repository, gw Gateway, clk clock.Clock, log *zap.Logger, service string) *Orchestrator {
	return &Orchestrator{repo: repo, gateway: gw, clock: clk, log: log, service: service, chargeTimeout: 20 * time.Second}
}

// ProcessPayment charges the order. The payment is created READY and moved
// to PENDING in the same write, before the gateway is called, so a crash at
// any point leaves a row the timeout sweep can fail. A declined charge
// returns the FAILED payment without error.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req ProcessRequest) (Payment, error) {
	if err := Validate(req); err != nil {
		return Payment{}, err
	}
	log := o.log.With(zap.String("order_id", req.OrderID))

	if p, found, err := o.existing(ctx, req); err != nil || found {
		return p, err
	}

	// the outcome must be recorded even if the caller goes away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.chargeTimeout)
	defer cancel()

	now := o.clock.Now()
	p := Payment{
		ID:        uuid.NewString(),
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Method:    req.Method,
		Status:    StatusReady,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !CanTransition(p.Status, StatusPending) {
		return Payment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusPending)
	}
	p.Status = StatusPending
	msg, err := o.outcomeMessage(ctx, p, events.TypePaymentPending, now)
	if err != nil {
		return Payment{}, err
	}
	if err := o.repo.Insert(ctx, p, []outbox.Message{msg}); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			if p, found, err := o.existing(ctx, req); err != nil || found {
				return p, err
			}
		}
		return Payment{}, err
	}
	log = log.With(zap.String("payment_id", p.ID))

	res, err := o.gateway.Charge(ctx, ChargeRequest{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Method:     p.Method,
		Instrument: req.Instrument,
	})
	if err == nil && res.Approved {
		return o.complete(ctx, p, res.PaymentKey, log)
	}

	reason := res.DeclineReason
	if err != nil {
		reason = "gateway error: " + err.Error()
	}
	if reason == "" {
		reason = "declined"
	}
	return o.fail(ctx, p.ID, reason, log)
}

// existing returns the order's active payment when req is a redelivery of
// the request that created it.
func (o *Orchestrator) existing(ctx context.Context, req ProcessRequest) (Payment, bool, error) {
	p, err := o.repo.ActiveForOrder(ctx, req.OrderID)
	if errors.Is(err, ErrPaymentNotFound) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, err
	}
	if !p.Amount.Equal(req.Amount) || p.Method != req.Method {
		return Payment{}, true, apperr.Conflict(fmt.Sprintf("order %s already has payment %s", req.OrderID, p.ID))
	}
	return p, true, nil
}

func (o *Orchestrator) complete(ctx context.Context, p Payment, key string, log *zap.Logger) (Payment, error) {
	paid, err := o.transition(ctx, p.ID, StatusCompleted, events.TypePaymentCompleted, func(p *Payment, now time.Time) {
		p.PaymentKey = key
		p.PaidAt = &now
	})
	if errors.Is(err, ErrInvalidTransition) {
		// the sweep failed the payment while the gateway was charging
		if rerr := o.gateway.Reverse(ctx, key); rerr != nil {
			log.Error("late charge could not be reversed, manual refund required",
				zap.String("payment_key", key), zap.Error(rerr))
		} else {
			log.Warn("late charge reversed", zap.String("payment_key", key))
		}
		return Payment{}, fmt.Errorf("payment %s no longer pending: %w", p.ID, err)
	}
	if err != nil {
		log.Error("completed charge not recorded", zap.String("payment_key", key), zap.Error(err))
		return Payment{}, err
	}
	log.Info("payment completed", zap.String("payment_key", key))
	return paid, nil
}

func (o *Orchestrator) fail(ctx context.Context, id, reason string, log *zap.Logger) (Payment, error) {
	failed, err := o.transition(ctx, id, StatusFailed, events.TypePaymentFailed, func(p *Payment, _ time.Time) {
		p.FailureReason = reason
	})
	if errors.Is(err, ErrInvalidTransition) {
		cur, gerr := o.repo.Get(ctx, id)
		if gerr == nil && cur.Status == StatusFailed {
			return cur, nil
		}
	}
	if err != nil {
		return Payment{}, err
	}
	log.Info("payment failed", zap.String("reason", reason))
	return failed, nil
}

// CancelPayment reverses a completed payment. Any other status is a
// conflict and nothing changes. If the gateway refuses the reversal the
// payment stays COMPLETED. Once the reversal is attempted the caller's
// cancellation no longer applies, so a refund is always followed by the
// CANCELLED write.
func (o *Orchestrator) CancelPayment(ctx context.Context, id, reason string) (Payment, error) {
	p, err := o.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusCompleted {
		return Payment{}, fmt.Errorf("%w: payment %s is %s", ErrNotCancellable, id, p.Status)
	}
	log := o.log.With(zap.String("payment_id", id), zap.String("order_id", p.OrderID))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.chargeTimeout)
	defer cancel()

	if err := o.gateway.Reverse(ctx, p.PaymentKey); err != nil {
		log.Warn("payment reversal refused", zap.Error(err))
		return Payment{}, apperr.Wrap(apperr.ErrConflict, "payment reversal failed", err)
	}

	cancelled, err := o.transition(ctx, id, StatusCancelled, events.TypePaymentCancelled, func(p *Payment, now time.Time) {
		p.CancelReason = reason
		p.CancelledAt = &now
	})
	if err != nil {
		// reversing again is harmless, so a retried cancel repairs this
		log.Error("payment reversed but not recorded as cancelled", zap.String("payment_key", p.PaymentKey), zap.Error(err))
		return Payment{}, err
	}
	log.Info("payment cancelled", zap.String("reason", reason))
	return cancelled, nil
}

// Refund cancels a completed payment on behalf of the order service. A
// payment already cancelled is returned as is, so redelivered refund
// requests are harmless.
func (o *Orchestrator) Refund(ctx context.Context, id, reason string) (Payment, error) {
	p, err := o.CancelPayment(ctx, id, reason)
	if errors.Is(err, ErrNotCancellable) {
		cur, gerr := o.repo.Get(ctx, id)
		if gerr == nil && cur.Status == StatusCancelled {
			return cur, nil
		}
	}
	return p, err
}

func (o *Orchestrator) Get(ctx context.Context, id string) (Payment, error) {
	return o.repo.Get(ctx, id)
}

func (o *Orchestrator) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return o.repo.ListByOrder(ctx, orderID)
}

func (o *Orchestrator) ListByStatus(ctx context.Context, status Status) ([]Payment, error) {
	return o.repo.ListByStatus(ctx, status, 500)
}

// transition re-reads the payment, checks the move against the status table,
// applies mutate and writes with a version guard. Entering a status with an
// event type queues the matching notification.
func (o *Orchestrator) transition(ctx context.Context, id string, to Status, eventType string, mutate func(p *Payment, now time.Time)) (Payment, error) {
	var out Payment
	err := retry.OnStale(ctx, func(ctx context.Context) error {
		cur, err := o.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
		}
		now := o.clock.Now()
		next := cur
		next.Status = to
		next.UpdatedAt = now
		if mutate != nil {
			mutate(&next, now)
		}

		msg, err := o.outcomeMessage(ctx, next, eventType, now)
		if err != nil {
			return err
		}
		if err := o.repo.Update(ctx, next, cur.Status, []outbox.Message{msg}); err != nil {
			return err
		}
		next.Version = cur.Version + 1
		out = next
		return nil
	})
	return out, err
}

func (o *Orchestrator) outcomeMessage(ctx context.Context, p Payment, eventType string, now time.Time) (outbox.Message, error) {
	return outbox.New(ctx, o.service, events.OutcomeEventID(p.ID, eventType), eventType, p.OrderID,
		events.PaymentOutcomePayload{
			PaymentID:  p.ID,
			OrderID:    p.OrderID,
			PaymentKey: p.PaymentKey,
			Method:     string(p.Method),
			Reason:     outcomeReason(p),
			Time:       now,
		}, now)
}

func outcomeReason(p Payment) string {
	switch p.Status {
	case StatusFailed:
		return p.FailureReason
	case StatusCancelled:
		return p.CancelReason
	}
	return ""
}

// TimeOut fails a payment that is still PENDING. It reports false without
// error when the payment moved on before the write, so a payment completed
// concurrently is left alone.
func (o *Orchestrator) TimeOut(ctx context.Context, id string) (bool, error) {
	_, err := o.transition(ctx, id, StatusFailed, events.TypePaymentFailed, func(p *Payment, _ time.Time) {
		p.FailureReason = ReasonTimedOut
	})
	if errors.Is(err, ErrInvalidTransition) {
		return false, nil
	}
	return err == nil, err
}
