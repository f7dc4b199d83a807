package payments

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/clock"
)

const ReasonTimedOut = "payment timed out"

// Reaper fails payments that stayed PENDING longer than the timeout. The
// order learns about it through the payment.failed event the transition
// queues.
type Reaper struct {
	repo     Repository
	orch     *Orchestrator
	clock    clock.Clock
	log      *zap.Logger
	timeout  time.Duration
	interval time.Duration
	batch    int
}

func NewReaper(repo Repository, orch *Orchestrator, clk clock.Clock, log *zap.Logger, timeout, interval time.Duration) *Reaper {
	return &Reaper{repo: repo, orch: orch, clock: clk, log: log, timeout: timeout, interval: interval, batch: 100}
}

func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info("payment reaper started", zap.Duration("timeout", r.timeout), zap.Duration("interval", r.interval))
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("payment reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep handles one batch and returns how many payments were failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.repo.ListPendingBefore(ctx, r.clock.Now().Add(-r.timeout), r.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range stale {
		log := r.log.With(zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))
		ok, err := r.orch.TimeOut(ctx, p.ID)
		switch {
		case err != nil:
			log.Warn("payment timeout not recorded", zap.Error(err))
		case ok:
			n++
			log.Info("payment timed out")
		default:
			log.Debug("payment settled before timeout")
		}
	}
	return n, nil
}
