package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
)

type Repo struct {
	DB     *pgxpool.Pool
	Outbox *outbox.PGStore
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{DB: db, Outbox: outbox.NewPGStore(db)}
}

const orderColumns = `id, COALESCE(external_id, ''), product_id, quantity, status, version, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.ExternalID, &o.ProductID, &o.Quantity, &status, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidUUID(err) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

// Create inserts the order, its first history entry and msgs atomically. A
// taken external id yields apperr.ErrDuplicate.
func (r *Repo) Create(ctx context.Context, o Order, first HistoryEntry, msgs []outbox.Message) error {
	return postgres.WithTx(ctx, r.DB, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)
		var externalID *string
		if o.ExternalID != "" {
			externalID = &o.ExternalID
		}
		if _, err := q.Exec(ctx, `
INSERT INTO orders (id, external_id, product_id, quantity, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			o.ID, externalID, o.ProductID, o.Quantity, string(o.Status), o.Version, o.CreatedAt,
		); err != nil {
			if postgres.IsUniqueViolation(err) {
				return apperr.ErrDuplicate
			}
			return err
		}
		if err := insertHistory(ctx, q, first); err != nil {
			return err
		}
		return r.Outbox.Enqueue(ctx, msgs...)
	})
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return scanOrder(postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE external_id = $1`, externalID))
}

func (r *Repo) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	rows, err := r.DB.Query(ctx, `
SELECT id, order_id, previous_status, new_status, message, created_at
FROM order_history
WHERE order_id = $1
ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		if postgres.IsInvalidUUID(err) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var prev, next string
		if err := rows.Scan(&h.ID, &h.OrderID, &prev, &next, &h.Message, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.PreviousStatus, h.NewStatus = Status(prev), Status(next)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		if postgres.IsInvalidUUID(err) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	// every order is created with one entry
	if len(out) == 0 {
		return nil, ErrOrderNotFound
	}
	return out, nil
}

// Update writes u with a version guard. It returns apperr.ErrStaleVersion
// when the order changed since it was read and apperr.ErrDuplicate when
// u.EventID was already processed.
func (r *Repo) Update(ctx context.Context, u Update) error {
	return postgres.WithTx(ctx, r.DB, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)
		if u.EventID != "" {
			tag, err := q.Exec(ctx,
				`INSERT INTO processed_events (event_id) VALUES ($1) ON CONFLICT DO NOTHING`, u.EventID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return apperr.ErrDuplicate
			}
		}

		tag, err := q.Exec(ctx, `
UPDATE orders SET status = $3, version = version + 1, updated_at = $4
WHERE id = $1 AND version = $2`,
			u.Order.ID, u.Order.Version, string(u.Order.Status), u.Order.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrStaleVersion
		}

		for _, h := range u.Entries {
			if err := insertHistory(ctx, q, h); err != nil {
				return err
			}
		}
		return r.Outbox.Enqueue(ctx, u.Outbox...)
	})
}

func (r *Repo) Enqueue(ctx context.Context, msgs ...outbox.Message) error {
	return r.Outbox.Enqueue(ctx, msgs...)
}

func (r *Repo) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&ok)
	return ok, err
}

func (r *Repo) ListStale(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE status = $1 AND created_at < $2
ORDER BY created_at
LIMIT $3`, string(status), createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, q postgres.Querier, h HistoryEntry) error {
	_, err := q.Exec(ctx, `
INSERT INTO order_history (order_id, previous_status, new_status, message, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		h.OrderID, string(h.PreviousStatus), string(h.NewStatus), h.Message, h.CreatedAt)
	return err
}
