package payments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

const paymentColumns = `id, order_id, amount::text, method, status, payment_key, failure_reason, cancel_reason,
	version, created_at, updated_at, paid_at, cancelled_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p              Payment
		amount         string
		method, status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &amount, &method, &status, &p.PaymentKey, &p.FailureReason, &p.CancelReason,
		&p.Version, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidUUID(err) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return Payment{}, err
	}
	p.Method, p.Status = Method(method), Status(status)
	return p, nil
}

func scanPayments(rows pgx.Rows) ([]Payment, error) {
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Insert stores a new payment together with msgs. A second active payment
// for the same order violates payments_active_order_idx and yields
// apperr.ErrDuplicate; nothing is queued then.
func (r *Repo) Insert(ctx context.Context, p Payment, msgs []outbox.Message) error {
	return postgres.WithTx(ctx, r.DB, func(ctx context.Context) error {
		_, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
INSERT INTO payments (id, order_id, amount, method, status, version, created_at, updated_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)`,
			p.ID, p.OrderID, p.Amount.String(), string(p.Method), string(p.Status), p.Version, p.CreatedAt, p.UpdatedAt)
		if postgres.IsUniqueViolation(err) {
			return apperr.ErrDuplicate
		}
		if err != nil {
			return err
		}
		return r.Outbox.Enqueue(ctx, msgs...)
	})
}

func (r *Repo) Get(ctx context.Context, id string) (Payment, error) {
	return scanPayment(postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *Repo) ActiveForOrder(ctx context.Context, orderID string) (Payment, error) {
	return scanPayment(r.DB.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 AND status <> 'CANCELLED'`, orderID))
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

func (r *Repo) ListByStatus(ctx context.Context, status Status, limit int) ([]Payment, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// ListPendingBefore returns PENDING payments last touched before the cutoff,
// oldest first.
func (r *Repo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Payment, error) {
	rows, err := r.DB.Query(ctx, `
SELECT `+paymentColumns+` FROM payments
WHERE status = 'PENDING' AND updated_at < $1
ORDER BY updated_at
LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// Update writes p and msgs in one transaction. The row must still be at
// p.Version and in status from, otherwise apperr.ErrStaleVersion is returned
// and nothing is written.
func (r *Repo) Update(ctx context.Context, p Payment, from Status, msgs []outbox.Message) error {
	return postgres.WithTx(ctx, r.DB, func(ctx context.Context) error {
		tag, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
UPDATE payments SET
	status = $4, payment_key = $5, failure_reason = $6, cancel_reason = $7,
	paid_at = $8, cancelled_at = $9, updated_at = $10, version = version + 1
WHERE id = $1 AND version = $2 AND status = $3`,
			p.ID, p.Version, string(from), string(p.Status), p.PaymentKey, p.FailureReason, p.CancelReason,
			p.PaidAt, p.CancelledAt, p.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrStaleVersion
		}
		return r.Outbox.Enqueue(ctx, msgs...)
	})
}
