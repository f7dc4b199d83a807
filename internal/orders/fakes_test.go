package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
)

type fakeRepo struct {
	mu        sync.Mutex
	orders    map[string]Order
	history   map[string][]HistoryEntry
	processed map[string]bool
	outbox    []outbox.Message
	nextEntry int64

	createErr  error
	enqueueErr error
	// beforeCreate runs once, unlocked, ahead of the next Create.
	beforeCreate func()
	// staleOnce makes the next Update fail with a stale version once.
	staleOnce bool
	updates   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:    map[string]Order{},
		history:   map[string][]HistoryEntry{},
		processed: map[string]bool{},
	}
}

func (r *fakeRepo) Create(_ context.Context, o Order, first HistoryEntry, msgs []outbox.Message) error {
	r.mu.Lock()
	hook := r.beforeCreate
	r.beforeCreate = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if o.ExternalID != "" {
		for _, existing := range r.orders {
			if existing.ExternalID == o.ExternalID {
				return apperr.ErrDuplicate
			}
		}
	}
	r.orders[o.ID] = o
	r.appendHistory(first)
	r.outbox = append(r.outbox, msgs...)
	return nil
}

func (r *fakeRepo) appendHistory(h HistoryEntry) {
	r.nextEntry++
	h.ID = r.nextEntry
	r.history[h.OrderID] = append(r.history[h.OrderID], h)
}

func (r *fakeRepo) Get(_ context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeRepo) FindByExternalID(_ context.Context, externalID string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ExternalID == externalID {
			return o, nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (r *fakeRepo) History(_ context.Context, id string) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.history[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := append([]HistoryEntry(nil), h...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeRepo) Update(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	if r.staleOnce {
		r.staleOnce = false
		// simulate a concurrent writer bumping the version
		cur := r.orders[u.Order.ID]
		cur.Version++
		r.orders[u.Order.ID] = cur
		return apperr.ErrStaleVersion
	}
	if u.EventID != "" && r.processed[u.EventID] {
		return apperr.ErrDuplicate
	}
	cur, ok := r.orders[u.Order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if cur.Version != u.Order.Version {
		return apperr.ErrStaleVersion
	}
	next := u.Order
	next.Version = cur.Version + 1
	r.orders[next.ID] = next
	for _, h := range u.Entries {
		r.appendHistory(h)
	}
	if u.EventID != "" {
		r.processed[u.EventID] = true
	}
	r.outbox = append(r.outbox, u.Outbox...)
	return nil
}

func (r *fakeRepo) Enqueue(_ context.Context, msgs ...outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enqueueErr != nil {
		return r.enqueueErr
	}
	r.outbox = append(r.outbox, msgs...)
	return nil
}

func (r *fakeRepo) EventProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed[eventID], nil
}

func (r *fakeRepo) ListStale(_ context.Context, status Status, before time.Time, limit int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.Status == status && o.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
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

type fakeInventory struct {
	mu       sync.Mutex
	stock    map[int64]int
	reserved map[string]int
	voided   map[string]bool
	err      error
	// lostReply applies a reservation and then fails with it, like a
	// response lost on the way back.
	lostReply error
	voidErr   error
	voids     []string
}

func newFakeInventory(stock map[int64]int) *fakeInventory {
	return &fakeInventory{stock: stock, reserved: map[string]int{}, voided: map[string]bool{}}
}

func (f *fakeInventory) Reserve(_ context.Context, productID int64, quantity int, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.voided[key] {
		return inventory.ErrReservationVoided
	}
	if _, ok := f.reserved[key]; ok {
		return nil
	}
	s, ok := f.stock[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	if s < quantity {
		return inventory.ErrInsufficientStock
	}
	f.stock[productID] = s - quantity
	f.reserved[key] = quantity
	return f.lostReply
}

func (f *fakeInventory) Void(_ context.Context, productID int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voidErr != nil {
		return f.voidErr
	}
	f.voids = append(f.voids, key)
	if f.voided[key] {
		return nil
	}
	f.voided[key] = true
	f.stock[productID] += f.reserved[key]
	return nil
}

func (f *fakeInventory) level(productID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID]
}
