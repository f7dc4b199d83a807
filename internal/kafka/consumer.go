package kafka

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/retry"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
)

// Handler returns nil only when the message was processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetters keeps messages the handler rejected for good, so they can be
// reconciled after their offset is committed.
type DeadLetters interface {
	Park(ctx context.Context, m kafka.Message, cause error) error
}

type Consumer struct {
	r       Reader
	log     *zap.Logger
	workers int
	offsets *offsetTracker
	// Retry paces redelivery of a failing message. Retryable failures are
	// retried until they succeed or the consumer stops; the offset is not
	// committed in between.
	Retry retry.Policy
	// Retryable picks which handler errors are worth retrying. Anything else
	// is parked in DeadLetters and committed.
	Retryable   func(error) bool
	DeadLetters DeadLetters
}

func NewConsumer(log *zap.Logger, brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(log.With(zap.String("topic", topic), zap.String("group", group)), r, workers)
}

func newConsumer(log *zap.Logger, r Reader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:         r,
		log:       log,
		workers:   workers,
		offsets:   newOffsetTracker(),
		Retry:     retry.Policy{MaxAttempts: 8, Initial: 200 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
		Retryable: func(error) bool { return true },
	}
}

// Start fans messages out to a worker pool. Messages with the same key go to
// the same worker so per-order ordering survives the pool. An offset is
// committed only once every earlier offset of its partition is done, so a
// message still being retried is redelivered after a restart.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.process(ctx, h, m)
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		c.offsets.track(m)
		select {
		case jobs[c.shard(m.Key)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	mctx := tracing.ExtractKafkaHeaders(ctx, m.Headers)
	log := c.log.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.ByteString("key", m.Key))

	for round := 1; ; round++ {
		err := c.Retry.Do(mctx, c.Retryable, func(ctx context.Context) error {
			err := h(ctx, m)
			if err != nil && ctx.Err() == nil {
				log.Warn("handler failed", zap.Error(err))
			}
			return err
		})
		if ctx.Err() != nil {
			// shutting down; leave the offset for the next owner
			return
		}
		if err == nil {
			break
		}
		if !c.Retryable(err) {
			if !c.park(ctx, log, m, err) {
				return
			}
			break
		}
		log.Error("handler still failing, holding offset", zap.Int("round", round), zap.Error(err))
		if !sleep(ctx, c.Retry.Delay(c.Retry.MaxAttempts)) {
			return
		}
	}
	c.commit(ctx, log, m)
}

// park stores m as a dead letter, retrying the write until it lands. It
// reports false when the consumer stopped first.
func (c *Consumer) park(ctx context.Context, log *zap.Logger, m kafka.Message, cause error) bool {
	if c.DeadLetters == nil {
		log.Error("message rejected with no dead letter store", zap.Error(cause))
		return true
	}
	for {
		err := c.Retry.Do(ctx, func(error) bool { return true }, func(ctx context.Context) error {
			return c.DeadLetters.Park(ctx, m, cause)
		})
		if err == nil {
			log.Error("message parked after handler rejected it", zap.Error(cause))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Error("dead letter write failed, holding offset", zap.Error(err))
		if !sleep(ctx, c.Retry.Delay(c.Retry.MaxAttempts)) {
			return false
		}
	}
}

func (c *Consumer) commit(ctx context.Context, log *zap.Logger, m kafka.Message) {
	upTo, ok := c.offsets.done(m)
	if !ok {
		return
	}
	c.offsets.commitMu.Lock()
	defer c.offsets.commitMu.Unlock()
	if !c.offsets.advance(upTo) {
		return
	}
	if err := c.r.CommitMessages(ctx, upTo); err != nil && ctx.Err() == nil {
		log.Error("commit failed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) shard(key []byte) int {
	if c.workers == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(c.workers))
}
