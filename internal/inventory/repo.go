package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-saga/internal/postgres"
)

type Repo struct{ DB *pgxpool.Pool }

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{DB: db} }

const productColumns = `id, name, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *Repo) Create(ctx context.Context, name string, stock int) (Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, `
INSERT INTO products (name, stock) VALUES ($1, $2)
RETURNING `+productColumns, name, stock))
}

func (r *Repo) Get(ctx context.Context, id int64) (Product, error) {
	return scanProduct(postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// Adjust applies delta to the product's stock under a row lock and refuses
// to go below zero. A non-empty key makes the call idempotent: replaying a
// key returns the current product without applying delta again. A key that
// was voided is refused with ErrReservationVoided.
func (r *Repo) Adjust(ctx context.Context, id int64, delta int, key string) (Product, error) {
	var out Product
	err := postgres.WithTx(ctx, r.DB, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)

		p, err := scanProduct(q.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		if key != "" {
			var prevProduct int64
			var prevDelta int
			var voided bool
			err := q.QueryRow(ctx,
				`SELECT product_id, delta, voided FROM stock_mutations WHERE idempotency_key = $1`, key,
			).Scan(&prevProduct, &prevDelta, &voided)
			switch {
			case err == nil:
				if prevProduct != id {
					return ErrKeyReused
				}
				if voided {
					return ErrReservationVoided
				}
				if prevDelta != delta {
					return ErrKeyReused
				}
				out = p
				return nil
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}
		}

		if p.Stock+delta < 0 {
			return ErrInsufficientStock
		}

		out, err = scanProduct(q.QueryRow(ctx, `
UPDATE products SET stock = stock + $2, updated_at = NOW()
WHERE id = $1 AND stock + $2 >= 0
RETURNING `+productColumns, id, delta))
		if errors.Is(err, ErrProductNotFound) {
			return ErrInsufficientStock
		}
		if err != nil {
			return err
		}

		if key != "" {
			if _, err := q.Exec(ctx,
				`INSERT INTO stock_mutations (idempotency_key, product_id, delta) VALUES ($1, $2, $3)`,
				key, id, delta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return out, nil
}

// Void gives back the stock taken under reserveKey and reports whether any
// was. A key never used is recorded as voided, so a reservation that arrives
// after its void is refused rather than applied. Voiding twice is a no-op.
func (r *Repo) Void(ctx context.Context, id int64, reserveKey string) (Product, bool, error) {
	var out Product
	restored := false
	err := postgres.WithTx(ctx, r.DB, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)

		p, err := scanProduct(q.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		out = p

		var prevProduct int64
		var prevDelta int
		var voided bool
		err = q.QueryRow(ctx,
			`SELECT product_id, delta, voided FROM stock_mutations WHERE idempotency_key = $1 FOR UPDATE`, reserveKey,
		).Scan(&prevProduct, &prevDelta, &voided)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err := q.Exec(ctx,
				`INSERT INTO stock_mutations (idempotency_key, product_id, delta, voided) VALUES ($1, $2, 0, true)`,
				reserveKey, id)
			return err
		case err != nil:
			return err
		case prevProduct != id:
			return ErrKeyReused
		case voided:
			return nil
		case prevDelta >= 0:
			// a release, not a reservation
			return ErrKeyReused
		}

		out, err = scanProduct(q.QueryRow(ctx, `
UPDATE products SET stock = stock - $2, updated_at = NOW()
WHERE id = $1
RETURNING `+productColumns, id, prevDelta))
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx,
			`UPDATE stock_mutations SET voided = true WHERE idempotency_key = $1`, reserveKey); err != nil {
			return err
		}
		restored = true
		return nil
	})
	if err != nil {
		return Product{}, false, err
	}
	return out, restored, nil
}
