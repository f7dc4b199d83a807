package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-order-saga/internal/inventory"
	"github.com/ariefcatur/go-order-saga/internal/testutil"
)

func TestRepoAdjustNeverGoesNegative(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := inventory.NewRepo(pool)
	p, err := repo.Create(ctx, "widget", 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, short := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Adjust(ctx, p.ID, -1, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, inventory.ErrInsufficientStock):
				short++
			default:
				t.Errorf("adjust: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 5 || short != 7 {
		t.Fatalf("expected 5 ok and 7 rejected, got %d and %d", ok, short)
	}
	got, err := repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", got.Stock)
	}
}

func TestRepoAdjustIdempotencyKey(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := inventory.NewRepo(pool)
	p, err := repo.Create(ctx, "widget", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := repo.Adjust(ctx, p.ID, -3, "reserve:o1")
		if err != nil {
			t.Fatalf("adjust %d: %v", i, err)
		}
		if got.Stock != 7 {
			t.Fatalf("expected 7 after replay %d, got %d", i, got.Stock)
		}
	}

	if _, err := repo.Adjust(ctx, p.ID, -4, "reserve:o1"); !errors.Is(err, inventory.ErrKeyReused) {
		t.Fatalf("expected key reuse conflict, got %v", err)
	}

	// a rejected mutation does not burn its key
	if _, err := repo.Adjust(ctx, p.ID, -50, "reserve:o2"); !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := repo.Adjust(ctx, p.ID, 3, "reserve:o2"); err != nil {
		t.Fatalf("expected key free after rollback, got %v", err)
	}
}

func TestRepoVoidReservation(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := inventory.NewRepo(pool)
	p, err := repo.Create(ctx, "widget", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Adjust(ctx, p.ID, -4, "reserve:o1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	got, restored, err := repo.Void(ctx, p.ID, "reserve:o1")
	if err != nil || !restored || got.Stock != 10 {
		t.Fatalf("void: stock=%d restored=%v err=%v", got.Stock, restored, err)
	}
	got, restored, err = repo.Void(ctx, p.ID, "reserve:o1")
	if err != nil || restored || got.Stock != 10 {
		t.Fatalf("repeated void: stock=%d restored=%v err=%v", got.Stock, restored, err)
	}
	if _, err := repo.Adjust(ctx, p.ID, -4, "reserve:o1"); !errors.Is(err, inventory.ErrReservationVoided) {
		t.Fatalf("expected voided key refused, got %v", err)
	}

	// voiding first leaves a marker that refuses the late reservation
	if _, restored, err := repo.Void(ctx, p.ID, "reserve:o2"); err != nil || restored {
		t.Fatalf("void unused key: restored=%v err=%v", restored, err)
	}
	if _, err := repo.Adjust(ctx, p.ID, -1, "reserve:o2"); !errors.Is(err, inventory.ErrReservationVoided) {
		t.Fatalf("expected late reservation refused, got %v", err)
	}

	if _, err := repo.Adjust(ctx, p.ID, 2, "o3:stock.release"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, _, err := repo.Void(ctx, p.ID, "o3:stock.release"); !errors.Is(err, inventory.ErrKeyReused) {
		t.Fatalf("expected a release key not to be voidable, got %v", err)
	}
}

func TestRepoGetUnknown(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)

	if _, err := inventory.NewRepo(pool).Get(ctx, 999999); !errors.Is(err, inventory.ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
