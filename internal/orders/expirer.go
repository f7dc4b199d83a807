package orders

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/clock"
)

// Expirer cancels orders that stayed in CREATED longer than maxAge, which
// releases their stock.
type Expirer struct {
	repo     Repository
	coord    *Coordinator
	clock    clock.Clock
	log      *zap.Logger
	maxAge   time.Duration
	interval time.Duration
	batch    int
}

func NewExpirer(repo Repository, coord *Coordinator, clk clock.Clock, log *zap.Logger, maxAge, interval time.Duration) *Expirer {
	return &Expirer{repo: repo, coord: coord, clock: clk, log: log, maxAge: maxAge, interval: interval, batch: 100}
}

func (e *Expirer) Run(ctx context.Context) error {
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("order expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires one batch and returns how many orders were cancelled.
func (e *Expirer) Sweep(ctx context.Context) (int, error) {
	stale, err := e.repo.ListStale(ctx, StatusCreated, e.clock.Now().Add(-e.maxAge), e.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range stale {
		ok, err := e.coord.ExpireOrder(ctx, o.ID)
		if err != nil {
			e.log.Warn("order expiry skipped", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if ok {
			n++
			e.log.Info("order expired", zap.String("order_id", o.ID))
		}
	}
	return n, nil
}
