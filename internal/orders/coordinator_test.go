package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/clock"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestCoordinator(stock map[int64]int) (*Coordinator, *fakeRepo, *fakeInventory) {
	repo := newFakeRepo()
	inv := newFakeInventory(stock)
	return NewCoordinator(repo, inv, nil, clock.NewFixed(t0), zap.NewNop(), "order-service"), repo, inv
}

func TestCreateOrderReservesStock(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()

	o, err := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != StatusCreated {
		t.Fatalf("expected CREATED, got %s", o.Status)
	}
	if inv.level(10) != 3 {
		t.Fatalf("expected stock 3, got %d", inv.level(10))
	}
	hist, err := c.GetHistory(ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].NewStatus != StatusCreated || hist[0].PreviousStatus != "" {
		t.Fatalf("unexpected history %+v", hist)
	}
	if len(repo.outbox) != 0 {
		t.Fatalf("expected no payment request without payment block, got %v", repo.outboxTypes())
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})

	_, err := c.CreateOrder(context.Background(), CreateRequest{ProductID: 10, Quantity: 6})
	if !errors.Is(err, inventory.ErrInsufficientStock) || !apperr.IsConflict(err) {
		t.Fatalf("expected insufficient stock conflict, got %v", err)
	}
	if len(repo.orders) != 0 {
		t.Fatalf("expected no order, got %d", len(repo.orders))
	}
	if inv.level(10) != 5 {
		t.Fatalf("expected stock unchanged, got %d", inv.level(10))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()

	cases := []CreateRequest{
		{ProductID: 10, Quantity: 0},
		{ProductID: 10, Quantity: -1},
		{ProductID: 0, Quantity: 1},
		{ProductID: 10, Quantity: 1, Payment: &PaymentRequest{Amount: decimal.Zero, Method: "CARD"}},
		{ProductID: 10, Quantity: 1, Payment: &PaymentRequest{Amount: decimal.NewFromInt(5)}},
	}
	for i, req := range cases {
		if _, err := c.CreateOrder(ctx, req); !apperr.IsValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCreateOrderUnknownProductIsValidation(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(map[int64]int{})

	if _, err := c.CreateOrder(context.Background(), CreateRequest{ProductID: 99, Quantity: 1}); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateOrderInventoryDownIsTransient(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	inv.err = apperr.Transient("inventory unreachable", errors.New("dial tcp: refused"))

	if _, err := c.CreateOrder(context.Background(), CreateRequest{ProductID: 10, Quantity: 1}); !apperr.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(repo.orders) != 0 {
		t.Fatal("no order may exist when the reservation failed")
	}
	if types := repo.outboxTypes(); len(types) != 1 || types[0] != events.TypeStockVoid {
		t.Fatalf("expected the unknown reservation to be voided later, got %v", types)
	}
}

func TestCreateOrderRetryAfterFailedPersistTakesStockAgain(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	req := CreateRequest{ExternalID: "cart-9", ProductID: 10, Quantity: 2}

	repo.createErr = errors.New("db down")
	if _, err := c.CreateOrder(ctx, req); err == nil {
		t.Fatal("expected error")
	}
	if inv.level(10) != 5 || len(inv.voids) != 1 {
		t.Fatalf("expected one void giving stock back, stock %d voids %v", inv.level(10), inv.voids)
	}

	repo.createErr = nil
	o, err := c.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if inv.level(10) != 3 {
		t.Fatalf("retry must reserve again, stock %d", inv.level(10))
	}
	if repo.orders[o.ID].ExternalID != "cart-9" {
		t.Fatalf("unexpected order %+v", repo.orders[o.ID])
	}
}

func TestCreateOrderLosingDuplicateGivesStockBack(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	winner := Order{ID: "winner", ExternalID: "cart-1", ProductID: 10, Quantity: 1, Status: StatusCreated, Version: 1}
	repo.beforeCreate = func() {
		repo.mu.Lock()
		repo.orders[winner.ID] = winner
		repo.mu.Unlock()
	}

	got, err := c.CreateOrder(context.Background(), CreateRequest{ExternalID: "cart-1", ProductID: 10, Quantity: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.ID != winner.ID {
		t.Fatalf("expected the concurrent winner, got %s", got.ID)
	}
	if inv.level(10) != 5 {
		t.Fatalf("loser must give its stock back, stock %d", inv.level(10))
	}
}

func TestCreateOrderLostReservationReplyQueuesVoid(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	inv.lostReply = apperr.Transient("inventory timed out", context.DeadlineExceeded)

	_, err := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 2})
	if !apperr.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if inv.level(10) != 3 || len(repo.orders) != 0 {
		t.Fatalf("expected stock taken without an order, stock %d orders %d", inv.level(10), len(repo.orders))
	}
	if len(repo.outbox) != 1 || repo.outbox[0].Type != events.TypeStockVoid {
		t.Fatalf("expected one queued void, got %v", repo.outboxTypes())
	}
	env, err := repo.outbox[0].Envelope()
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	var p events.StockVoidPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.ProductID != 10 || p.ReserveKey != "reserve:"+p.OrderID || env.EventID != events.StockVoidEventID(p.ReserveKey) {
		t.Fatalf("unexpected void %+v / %s", p, env.EventID)
	}

	// the relay delivering the void hands the stock back
	if err := inv.Void(ctx, p.ProductID, p.ReserveKey); err != nil {
		t.Fatalf("void: %v", err)
	}
	if inv.level(10) != 5 {
		t.Fatalf("expected stock restored, got %d", inv.level(10))
	}
}

func TestCreateOrderRejectedReservationQueuesNothing(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 1})

	if _, err := c.CreateOrder(context.Background(), CreateRequest{ProductID: 10, Quantity: 2}); !apperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(repo.outbox) != 0 {
		t.Fatalf("a refused reservation needs no void, got %v", repo.outboxTypes())
	}
}

func TestCreateOrderQueuesVoidWhenCompensationFails(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	repo.createErr = errors.New("insert failed")
	inv.voidErr = apperr.Transient("inventory unreachable", errors.New("dial tcp: refused"))

	if _, err := c.CreateOrder(context.Background(), CreateRequest{ProductID: 10, Quantity: 2}); err == nil {
		t.Fatal("expected error")
	}
	if types := repo.outboxTypes(); len(types) != 1 || types[0] != events.TypeStockVoid {
		t.Fatalf("expected the void to be queued, got %v", types)
	}
}

func TestCreateOrderReleasesStockWhenPersistFails(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	repo.createErr = errors.New("db down")

	if _, err := c.CreateOrder(context.Background(), CreateRequest{ProductID: 10, Quantity: 2}); err == nil {
		t.Fatal("expected error")
	}
	if inv.level(10) != 5 {
		t.Fatalf("expected reservation compensated, stock %d", inv.level(10))
	}
}

func TestCreateOrderIdempotentByExternalID(t *testing.T) {
	t.Parallel()
	c, repo, inv := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()

	first, err := c.CreateOrder(ctx, CreateRequest{ExternalID: "cart-1", ProductID: 10, Quantity: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := c.CreateOrder(ctx, CreateRequest{ExternalID: "cart-1", ProductID: 10, Quantity: 2})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first.ID != second.ID || len(repo.orders) != 1 {
		t.Fatalf("expected the same order, got %s and %s", first.ID, second.ID)
	}
	if inv.level(10) != 3 {
		t.Fatalf("expected a single reservation, stock %d", inv.level(10))
	}
}

func TestCreateOrderQueuesPaymentRequest(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 5})

	o, err := c.CreateOrder(context.Background(), CreateRequest{
		ProductID: 10, Quantity: 1,
		Payment: &PaymentRequest{UserID: "u1", Amount: decimal.RequireFromString("10000"), Method: "CARD", CardNumber: "4111111111111111"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(repo.outbox) != 1 {
		t.Fatalf("expected one outbox message, got %d", len(repo.outbox))
	}
	m := repo.outbox[0]
	if m.Type != events.TypePaymentRequested || m.AggregateID != o.ID || m.EventID != o.ID+":payment.requested" {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestPaymentCompletedConfirmsOrder(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})

	if _, err := c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentPending, PaymentID: "p1", OrderID: o.ID}); err != nil {
		t.Fatalf("pending: %v", err)
	}
	got, err := c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentCompleted, PaymentID: "p1", OrderID: o.ID, PaymentKey: "PAY-1"})
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", got.Status)
	}

	hist, _ := c.GetHistory(ctx, o.ID)
	want := []Status{StatusConfirmed, StatusPaymentCompleted, StatusPaymentPending, StatusCreated}
	if len(hist) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(hist))
	}
	for i, s := range want {
		if hist[i].NewStatus != s {
			t.Fatalf("entry %d: expected %s, got %s", i, s, hist[i].NewStatus)
		}
	}
	if hist[0].NewStatus != got.Status {
		t.Fatal("status must equal the newest history entry")
	}
}

func TestRedeliveredTerminalEventIsNoop(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})

	ev := PaymentEvent{Type: events.TypePaymentCompleted, PaymentID: "p1", OrderID: o.ID, PaymentKey: "PAY-1"}
	first, err := c.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// the user cancels; a redelivered completion must still be a no-op
	if _, err := c.UpdateStatus(ctx, o.ID, StatusCancelled, "customer request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before, _ := c.GetHistory(ctx, o.ID)

	again, err := c.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	after, _ := c.GetHistory(ctx, o.ID)
	if len(after) != len(before) {
		t.Fatalf("redelivery appended history: %d -> %d", len(before), len(after))
	}
	if again.Status != StatusCancelled || first.Status != StatusConfirmed {
		t.Fatalf("unexpected statuses %s / %s", first.Status, again.Status)
	}
	if !repo.processed[events.OutcomeEventID("p1", events.TypePaymentCompleted)] {
		t.Fatal("expected event id derived from payment id and kind")
	}
}

func TestPaymentFailedCancelsAndReleasesStock(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 2})

	got, err := c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentFailed, PaymentID: "p1", OrderID: o.ID, Reason: "CARD_DECLINED"})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	types := repo.outboxTypes()
	if len(types) != 1 || types[0] != events.TypeStockRelease {
		t.Fatalf("expected a stock release, got %v", types)
	}
	env, err := repo.outbox[0].Envelope()
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.EventID != o.ID+":stock.release" {
		t.Fatalf("unexpected release event id %s", env.EventID)
	}

	hist, _ := c.GetHistory(ctx, o.ID)
	if hist[1].NewStatus != StatusPaymentFailed || hist[1].Message != "payment p1 failed: CARD_DECLINED" {
		t.Fatalf("unexpected failure entry %+v", hist[1])
	}
}

func TestPaymentCancelledAfterConfirm(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})
	_, _ = c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentCompleted, PaymentID: "p1", OrderID: o.ID})

	got, err := c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentCancelled, PaymentID: "p1", OrderID: o.ID, Reason: "customer refund"})
	if err != nil {
		t.Fatalf("cancelled: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if types := repo.outboxTypes(); len(types) != 1 || types[0] != events.TypeStockRelease {
		t.Fatalf("expected stock release, got %v", types)
	}
}

func TestPaymentCompletedAfterCancelRequestsRefund(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})
	if _, err := c.UpdateStatus(ctx, o.ID, StatusCancelled, "customer request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before, _ := c.GetHistory(ctx, o.ID)

	ev := PaymentEvent{Type: events.TypePaymentCompleted, PaymentID: "p1", OrderID: o.ID, PaymentKey: "PAY-1"}
	got, err := c.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		t.Fatalf("late completion: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("order must stay CANCELLED, got %s", got.Status)
	}
	after, _ := c.GetHistory(ctx, o.ID)
	if len(after) != len(before) {
		t.Fatalf("late completion changed history: %d -> %d", len(before), len(after))
	}

	var refunds []events.Envelope
	for _, m := range repo.outbox {
		if m.Type != events.TypeRefundRequested {
			continue
		}
		env, err := m.Envelope()
		if err != nil {
			t.Fatalf("envelope: %v", err)
		}
		if m.AggregateID != o.ID {
			t.Fatalf("refund aggregate %s, want %s", m.AggregateID, o.ID)
		}
		refunds = append(refunds, env)
	}
	if len(refunds) != 1 || refunds[0].EventID != "p1:payment.refund_requested" {
		t.Fatalf("expected one refund request, got %+v", refunds)
	}
	var p events.RefundRequestedPayload
	if err := json.Unmarshal(refunds[0].Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.PaymentID != "p1" || p.OrderID != o.ID || p.Reason != ReasonOrderCancelled {
		t.Fatalf("unexpected refund payload %+v", p)
	}

	queued := len(repo.outbox)
	if _, err := c.ApplyPaymentEvent(ctx, ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(repo.outbox) != queued {
		t.Fatalf("redelivery queued a second refund: %v", repo.outboxTypes())
	}
}

func TestPaymentCompletedAfterCancelNeedsPaymentID(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})
	_, _ = c.UpdateStatus(ctx, o.ID, StatusCancelled, "customer request")

	_, err := c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentCompleted, EventID: "e1", OrderID: o.ID})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestContradictingPaymentEventIsConflict(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})
	_, _ = c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentCompleted, PaymentID: "p1", OrderID: o.ID})

	_, err := c.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentFailed, PaymentID: "p2", OrderID: o.ID})
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApplyPaymentEventUnknownOrder(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(nil)

	_, err := c.ApplyPaymentEvent(context.Background(), PaymentEvent{Type: events.TypePaymentCompleted, PaymentID: "p1", OrderID: "missing"})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateStatusFollowsGraph(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})

	if _, err := c.UpdateStatus(ctx, o.ID, StatusCompleted, "ship it"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	got, err := c.UpdateStatus(ctx, o.ID, StatusPaymentPending, "awaiting payment")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != StatusPaymentPending || got.Version != 2 {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestUpdateStatusRepeatIsNoop(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})

	if _, err := c.UpdateStatus(ctx, o.ID, StatusCancelled, "customer request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := c.UpdateStatus(ctx, o.ID, StatusCancelled, "customer request"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	hist, _ := c.GetHistory(ctx, o.ID)
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if len(repo.outbox) != 1 {
		t.Fatalf("expected one release, got %d", len(repo.outbox))
	}
	if _, err := c.UpdateStatus(ctx, o.ID, StatusCancelled, "different reason"); !apperr.IsConflict(err) {
		t.Fatalf("expected conflict for a new cancel, got %v", err)
	}
}

func TestUpdateStatusUnknownOrderAndStatus(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(nil)
	ctx := context.Background()

	if _, err := c.UpdateStatus(ctx, "nope", StatusCancelled, ""); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.UpdateStatus(ctx, "nope", Status("SHIPPED"), ""); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.GetHistory(ctx, "nope"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateRetriesStaleVersion(t *testing.T) {
	t.Parallel()
	c, repo, _ := newTestCoordinator(map[int64]int{10: 5})
	ctx := context.Background()
	o, _ := c.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})
	repo.staleOnce = true

	got, err := c.UpdateStatus(ctx, o.ID, StatusPaymentPending, "awaiting payment")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if repo.updates != 2 {
		t.Fatalf("expected a retry after the stale write, got %d updates", repo.updates)
	}
	if got.Status != StatusPaymentPending {
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestExpirerCancelsStaleCreatedOrders(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	inv := newFakeInventory(map[int64]int{10: 5})
	ctx := context.Background()

	past := NewCoordinator(repo, inv, nil, clock.NewFixed(t0), zap.NewNop(), "order-service")
	stale, _ := past.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})
	paid, _ := past.CreateOrder(ctx, CreateRequest{ProductID: 10, Quantity: 1})
	_, _ = past.ApplyPaymentEvent(ctx, PaymentEvent{Type: events.TypePaymentPending, PaymentID: "p", OrderID: paid.ID})

	later := clock.NewFixed(t0.Add(3 * time.Hour))
	coord := NewCoordinator(repo, inv, nil, later, zap.NewNop(), "order-service")
	n, err := NewExpirer(repo, coord, later, zap.NewNop(), 2*time.Hour, time.Minute).Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired order, got %d", n)
	}
	got, _ := repo.Get(ctx, stale.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	other, _ := repo.Get(ctx, paid.ID)
	if other.Status != StatusPaymentPending {
		t.Fatalf("expected untouched order, got %s", other.Status)
	}
}
