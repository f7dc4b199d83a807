package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/clock"
	"github.com/ariefcatur/go-order-saga/internal/retry"
)

type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
	// SendTimeout caps one delivery. It is kept under the lease so a slow
	// send can not outlive the claim on its row.
	SendTimeout time.Duration
	// Backoff schedules the next attempt; only Initial and Max are used.
	Backoff retry.Policy
}

// Relay drains the outbox at least once. Failed sends are rescheduled with
// exponential backoff; after MaxAttempts, or on a permanent error, the row
// is parked.
type Relay struct {
	log     *zap.Logger
	store   Store
	sender  Sender
	clock   clock.Clock
	relayID string
	cfg     RelayConfig
}

func NewRelay(log *zap.Logger, store Store, sender Sender, clk clock.Clock, relayID string, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 || cfg.SendTimeout > cfg.Lease/2 {
		cfg.SendTimeout = cfg.Lease / 3
	}
	return &Relay{log: log, store: store, sender: sender, clock: clk, relayID: relayID, cfg: cfg}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	r.log.Info("outbox relay started", zap.String("relay_id", r.relayID))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopping", zap.String("relay_id", r.relayID))
			return nil
		case <-t.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain processes one batch and returns how many messages were delivered.
// Sends run one at a time, so the lease on the rest of the batch is renewed
// whenever the next send could outlast it. If renewal fails the batch stops
// and the unsent rows are reclaimed once their lease runs out.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	now := r.clock.Now()
	msgs, err := r.store.LockBatch(ctx, r.relayID, now, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, err
	}
	leaseUntil := now.Add(r.cfg.Lease)
	sent := 0
	for i, m := range msgs {
		if ctx.Err() != nil {
			return sent, nil
		}
		now := r.clock.Now()
		if !now.Add(r.cfg.SendTimeout).Before(leaseUntil) {
			until := now.Add(r.cfg.Lease)
			if err := r.store.ExtendLease(ctx, r.relayID, ids(msgs[i:]), until); err != nil {
				r.log.Warn("outbox lease renewal failed, leaving rest of batch",
					zap.Int("remaining", len(msgs)-i), zap.Error(err))
				return sent, nil
			}
			leaseUntil = until
		}
		if r.deliver(ctx, m) {
			sent++
		}
	}
	return sent, nil
}

func ids(msgs []Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func (r *Relay) deliver(ctx context.Context, m Message) bool {
	log := r.log.With(zap.String("event_id", m.EventID), zap.String("event_type", m.Type),
		zap.String("aggregate_id", m.AggregateID))

	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	err := r.sender.Send(sctx, m)
	cancel()
	if err == nil {
		if err := r.store.MarkSent(ctx, m.ID, r.clock.Now()); err != nil {
			// the lease expires and the message is sent again; consumers dedup
			log.Error("outbox mark sent failed", zap.Error(err))
		}
		log.Debug("outbox delivered")
		return true
	}

	attempts := m.Attempts + 1
	if IsPermanent(err) || attempts >= r.cfg.MaxAttempts {
		log.Error("outbox message parked", zap.Int("attempts", attempts), zap.Error(err))
		if perr := r.store.MarkParked(ctx, m.ID, attempts, err.Error()); perr != nil {
			log.Error("outbox mark parked failed", zap.Error(perr))
		}
		return false
	}

	next := r.clock.Now().Add(r.cfg.Backoff.Delay(attempts))
	log.Warn("outbox delivery failed, rescheduled",
		zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(err))
	if ferr := r.store.MarkFailed(ctx, m.ID, attempts, next, err.Error()); ferr != nil {
		log.Error("outbox reschedule failed", zap.Error(ferr))
	}
	return false
}
