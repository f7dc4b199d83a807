package payments

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
)

type fakeRepo struct {
	mu       sync.Mutex
	payments map[string]Payment
	outbox   []outbox.Message

	// beforeUpdate runs once, unlocked, ahead of the next Update.
	beforeUpdate func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{payments: map[string]Payment{}}
}

func (r *fakeRepo) Insert(ctx context.Context, p Payment, msgs []outbox.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.OrderID == p.OrderID && existing.Status != StatusCancelled {
			return apperr.ErrDuplicate
		}
	}
	r.payments[p.ID] = p
	r.outbox = append(r.outbox, msgs...)
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (r *fakeRepo) ActiveForOrder(_ context.Context, orderID string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderID == orderID && p.Status != StatusCancelled {
			return p, nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}

func (r *fakeRepo) ListByOrder(_ context.Context, orderID string) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListByStatus(_ context.Context, status Status, limit int) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.payments {
		if p.Status == status && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.payments {
		if p.Status == StatusPending && p.UpdatedAt.Before(before) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) Update(ctx context.Context, p Payment, from Status, msgs []outbox.Message) error {
	r.mu.Lock()
	hook := r.beforeUpdate
	r.beforeUpdate = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.payments[p.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	if cur.Version != p.Version || cur.Status != from {
		return apperr.ErrStaleVersion
	}
	p.Version = cur.Version + 1
	r.payments[p.ID] = p
	r.outbox = append(r.outbox, msgs...)
	return nil
}

// put overwrites a stored payment, bumping its version like a concurrent writer.
func (r *fakeRepo) put(p Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Version++
	r.payments[p.ID] = p
}

func (r *fakeRepo) outboxTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.outbox))
	for _, m := range r.outbox {
		out = append(out, m.Type)
	}
	return out
}

type fakeGateway struct {
	mu         sync.Mutex
	chargeErr  error
	reverseErr error
	decline    string
	charges    int
	reversed   []string
	// onCharge runs inside Charge before it answers.
	onCharge func(req ChargeRequest)
	// onReverse runs after a successful reversal.
	onReverse func(key string)
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	g.mu.Lock()
	g.charges++
	hook := g.onCharge
	g.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if g.chargeErr != nil {
		return ChargeResult{}, g.chargeErr
	}
	if g.decline != "" {
		return ChargeResult{DeclineReason: g.decline}, nil
	}
	return ChargeResult{Approved: true, PaymentKey: "PAY-" + req.PaymentID}, nil
}

func (g *fakeGateway) Reverse(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	if g.reverseErr != nil {
		g.mu.Unlock()
		return g.reverseErr
	}
	g.reversed = append(g.reversed, key)
	hook := g.onReverse
	g.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}
