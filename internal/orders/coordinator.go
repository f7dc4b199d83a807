package orders

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
	Create(ctx context.Context, o Order, first HistoryEntry, msgs []outbox.Message) error
	Get(ctx context.Context, id string) (Order, error)
	FindByExternalID(ctx context.Context, externalID string) (Order, error)
	History(ctx context.Context, id string) ([]HistoryEntry, error)
	Update(ctx context.Context, u Update) error
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	// Enqueue queues messages that belong to no order row.
	Enqueue(ctx context.Context, msgs ...outbox.Message) error
	ListStale(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]Order, error)
}

// Inventory is the remote stock capability. A conflict, not-found or
// validation error from Reserve means the stock was not taken; any other
// error leaves it unknown. Void undoes a reservation by its key and also
// blocks one that has not arrived yet.
type Inventory interface {
	Reserve(ctx context.Context, productID int64, quantity int, key string) error
	Void(ctx context.Context, productID int64, reserveKey string) error
}

type Cache interface {
	Get(ctx context.Context, id string) (Order, bool)
	Set(ctx context.Context, o Order)
}

// Coordinator owns the order lifecycle and its audit history.
type Coordinator struct {
	repo      Repository
	inventory Inventory
	cache     Cache
	clock     clock.Clock
	log       *zap.Logger
	service   string
}

func NewCoordinator(repo Repository, inv Inventory, cache Cache, clk clock.Clock, log *zap.Logger, service string) *Coordinator {
	if cache == nil {
		cache = noCache{}
	}
	return &Coordinator{repo: repo, inventory: inv, cache: cache, clock: clk, log: log, service: service}
}

// CreateOrder reserves stock, then persists the order in CREATED together
// with its first history entry and, when a payment is attached, the payment
// request. It returns once the order is durable; payment runs asynchronously.
func (c *Coordinator) CreateOrder(ctx context.Context, req CreateRequest) (Order, error) {
	if err := validateCreate(req); err != nil {
		return Order{}, err
	}
	if req.ExternalID != "" {
		existing, err := c.repo.FindByExternalID(ctx, req.ExternalID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return Order{}, err
		}
	}

	now := c.clock.Now()
	o := Order{
		ID:         uuid.NewString(),
		ExternalID: req.ExternalID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		Status:     StatusCreated,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	log := c.log.With(zap.String("order_id", o.ID), zap.Int64("product_id", o.ProductID), zap.Int("quantity", o.Quantity))

	// one key per attempt: a voided attempt never shadows a retry
	reserveKey := "reserve:" + o.ID
	if err := c.inventory.Reserve(ctx, o.ProductID, o.Quantity, reserveKey); err != nil {
		log.Info("stock reservation failed", zap.Error(err))
		if apperr.IsNotFound(err) {
			return Order{}, apperr.Validation(fmt.Sprintf("product %d does not exist", o.ProductID))
		}
		if !apperr.IsConflict(err) && !apperr.IsValidation(err) {
			// the decrement may have landed with only the answer lost
			c.voidLater(ctx, o, reserveKey, log)
		}
		return Order{}, err
	}

	var msgs []outbox.Message
	if req.Payment != nil {
		m, err := outbox.New(ctx, c.service, events.PaymentRequestEventID(o.ID), events.TypePaymentRequested, o.ID,
			events.PaymentRequestedPayload{
				OrderID:    o.ID,
				UserID:     req.Payment.UserID,
				Amount:     req.Payment.Amount.String(),
				Method:     req.Payment.Method,
				CardNumber: req.Payment.CardNumber,
				CardExpiry: req.Payment.CardExpiry,
				CardCvc:    req.Payment.CardCvc,
			}, now)
		if err != nil {
			c.compensate(ctx, o, reserveKey, log)
			return Order{}, err
		}
		msgs = append(msgs, m)
	}

	first := HistoryEntry{OrderID: o.ID, NewStatus: StatusCreated, Message: "order created", CreatedAt: now}
	if err := c.repo.Create(ctx, o, first, msgs); err != nil {
		c.compensate(ctx, o, reserveKey, log)
		if errors.Is(err, apperr.ErrDuplicate) && req.ExternalID != "" {
			// a concurrent request with the same external id won
			return c.repo.FindByExternalID(ctx, req.ExternalID)
		}
		log.Error("persist order failed", zap.Error(err))
		return Order{}, err
	}

	c.cache.Set(ctx, o)
	log.Info("order created", zap.Bool("payment_requested", req.Payment != nil))
	return o, nil
}

// compensate gives back stock whose order could not be persisted. When the
// inventory service can not be reached the void is queued instead.
func (c *Coordinator) compensate(ctx context.Context, o Order, reserveKey string, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err := c.inventory.Void(ctx, o.ProductID, reserveKey); err != nil {
		log.Warn("stock compensation failed, queueing it", zap.Error(err))
		c.voidLater(ctx, o, reserveKey, log)
	}
}

// voidLater queues a stock.void for reserveKey so the relay undoes the
// reservation once the inventory service answers.
func (c *Coordinator) voidLater(ctx context.Context, o Order, reserveKey string, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	m, err := outbox.New(ctx, c.service, events.StockVoidEventID(reserveKey), events.TypeStockVoid, o.ID,
		events.StockVoidPayload{OrderID: o.ID, ProductID: o.ProductID, ReserveKey: reserveKey}, c.clock.Now())
	if err == nil {
		err = c.repo.Enqueue(ctx, m)
	}
	if err != nil {
		log.Error("stock void not queued, manual release required",
			zap.String("reservation_key", reserveKey), zap.Error(err))
		return
	}
	log.Info("stock void queued", zap.String("reservation_key", reserveKey))
}

func validateCreate(req CreateRequest) error {
	if req.Quantity <= 0 {
		return apperr.Validation("quantity must be positive")
	}
	if req.ProductID <= 0 {
		return apperr.Validation("product id must be positive")
	}
	if p := req.Payment; p != nil {
		if !p.Amount.IsPositive() {
			return apperr.Validation("payment amount must be positive")
		}
		if p.Method == "" {
			return apperr.Validation("payment method is required")
		}
	}
	return nil
}

func (c *Coordinator) GetOrder(ctx context.Context, id string) (Order, error) {
	if o, ok := c.cache.Get(ctx, id); ok {
		return o, nil
	}
	o, err := c.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	c.cache.Set(ctx, o)
	return o, nil
}

// GetHistory returns the order's history newest first.
func (c *Coordinator) GetHistory(ctx context.Context, id string) ([]HistoryEntry, error) {
	return c.repo.History(ctx, id)
}

// UpdateStatus moves the order along one edge of the status graph.
// Repeating the request that produced the current status (same status, same
// message) is a no-op.
func (c *Coordinator) UpdateStatus(ctx context.Context, id string, to Status, message string) (Order, error) {
	if !to.Valid() {
		return Order{}, apperr.Validation(fmt.Sprintf("unknown order status %q", to))
	}
	if message == "" {
		message = "status changed to " + string(to)
	}
	return c.advance(ctx, id, "", func(ctx context.Context, o Order, _ time.Time) ([]step, []outbox.Message, error) {
		if o.Status == to {
			hist, err := c.repo.History(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			if len(hist) > 0 && hist[0].NewStatus == to && hist[0].Message == message {
				return nil, nil, nil
			}
			return nil, nil, invalidTransition(o.Status, to)
		}
		if !CanTransition(o.Status, to) {
			return nil, nil, invalidTransition(o.Status, to)
		}
		return []step{{to: to, message: message}}, nil, nil
	})
}

// ApplyPaymentEvent folds a payment outcome into the order. Redelivered
// events are no-ops. A payment that completes after the order was cancelled
// leaves the order CANCELLED and queues a refund of that payment.
func (c *Coordinator) ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) (Order, error) {
	if ev.OrderID == "" {
		return Order{}, apperr.Validation("order id is required")
	}
	if !events.IsPaymentOutcome(ev.Type) {
		return Order{}, apperr.Validation(fmt.Sprintf("unknown payment event type %q", ev.Type))
	}
	if ev.EventID == "" && ev.PaymentID != "" {
		ev.EventID = events.OutcomeEventID(ev.PaymentID, ev.Type)
	}
	if ev.EventID != "" {
		done, err := c.repo.EventProcessed(ctx, ev.EventID)
		if err != nil {
			return Order{}, err
		}
		if done {
			c.log.Debug("payment event already applied", zap.String("event_id", ev.EventID))
			return c.repo.Get(ctx, ev.OrderID)
		}
	}
	return c.advance(ctx, ev.OrderID, ev.EventID, func(ctx context.Context, o Order, now time.Time) ([]step, []outbox.Message, error) {
		steps, err := planPaymentEvent(o.Status, ev)
		if err != nil || !chargedAfterCancel(o.Status, ev) {
			return steps, nil, err
		}
		if ev.PaymentID == "" {
			return nil, nil, apperr.Validation("payment id is required to refund a late charge")
		}
		c.log.Warn("payment completed for a cancelled order, requesting refund",
			zap.String("order_id", o.ID), zap.String("payment_id", ev.PaymentID))
		m, err := outbox.New(ctx, c.service, events.RefundRequestEventID(ev.PaymentID), events.TypeRefundRequested, o.ID,
			events.RefundRequestedPayload{PaymentID: ev.PaymentID, OrderID: o.ID, Reason: ReasonOrderCancelled, Time: now}, now)
		if err != nil {
			return nil, nil, err
		}
		return nil, []outbox.Message{m}, nil
	})
}

// ReasonOrderCancelled is sent with refunds of charges that outlived their
// order.
const ReasonOrderCancelled = "order cancelled"

// ExpireOrder cancels an order still in CREATED. It returns false when the
// order moved on in the meantime.
func (c *Coordinator) ExpireOrder(ctx context.Context, id string) (bool, error) {
	expired := false
	_, err := c.advance(ctx, id, "", func(_ context.Context, o Order, _ time.Time) ([]step, []outbox.Message, error) {
		expired = o.Status == StatusCreated
		if !expired {
			return nil, nil, nil
		}
		return []step{{to: StatusCancelled, message: "order expired without payment"}}, nil, nil
	})
	return expired && err == nil, err
}

// planFunc returns the status steps to take from o and any messages to queue
// alongside them. Messages without steps are still written, and still bump
// the version.
type planFunc func(ctx context.Context, o Order, now time.Time) ([]step, []outbox.Message, error)

// advance re-reads the order, asks plan for the steps to take and writes
// them with a version guard, retrying on stale versions. Entering CANCELLED
// queues the stock release in the same transaction.
func (c *Coordinator) advance(ctx context.Context, id, eventID string, plan planFunc) (Order, error) {
	var out Order
	err := retry.OnStale(ctx, func(ctx context.Context) error {
		o, err := c.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		now := c.clock.Now()
		steps, msgs, err := plan(ctx, o, now)
		if err != nil {
			return err
		}
		if len(steps) == 0 && len(msgs) == 0 {
			out = o
			return nil
		}

		next := o
		entries := make([]HistoryEntry, 0, len(steps))
		for _, s := range steps {
			if !CanTransition(next.Status, s.to) {
				return invalidTransition(next.Status, s.to)
			}
			entries = append(entries, HistoryEntry{
				OrderID:        id,
				PreviousStatus: next.Status,
				NewStatus:      s.to,
				Message:        s.message,
				CreatedAt:      now,
			})
			next.Status = s.to
		}
		next.UpdatedAt = now

		if next.Status == StatusCancelled && o.Status != StatusCancelled {
			m, err := outbox.New(ctx, c.service, events.StockReleaseEventID(id), events.TypeStockRelease, id,
				events.StockReleasePayload{OrderID: id, ProductID: o.ProductID, Quantity: o.Quantity}, now)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
		}

		err = c.repo.Update(ctx, Update{Order: next, Entries: entries, EventID: eventID, Outbox: msgs})
		if errors.Is(err, apperr.ErrDuplicate) {
			out = o
			return nil
		}
		if err != nil {
			return err
		}
		next.Version = o.Version + 1
		out = next
		c.log.Info("order status changed",
			zap.String("order_id", id),
			zap.String("from", string(o.Status)),
			zap.String("to", string(next.Status)),
			zap.String("event_id", eventID))
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	c.cache.Set(ctx, out)
	return out, nil
}

type noCache struct{}

func (noCache) Get(context.Context, string) (Order, bool) { return Order{}, false }
func (noCache) Set(context.Context, Order)                {}
