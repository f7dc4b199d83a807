package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-saga/internal/postgres"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, now time.Time, batchSize int, lease time.Duration) ([]Message, error)
	ExtendLease(ctx context.Context, relayID string, ids []int64, until time.Time) error
	MarkSent(ctx context.Context, id int64, now time.Time) error
	MarkFailed(ctx context.Context, id int64, attempts int, next time.Time, errMsg string) error
	MarkParked(ctx context.Context, id int64, attempts int, errMsg string) error
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

// Enqueue inserts messages using the transaction in ctx when present, so the
// rows commit or roll back with the state change that produced them. A
// message whose event id already exists is skipped.
func (s *PGStore) Enqueue(ctx context.Context, msgs ...Message) error {
	q := postgres.Conn(ctx, s.pool)
	for _, m := range msgs {
		if _, err := q.Exec(ctx, `
INSERT INTO outbox (event_id, aggregate_id, event_type, payload, traceparent, status, next_attempt_at, created_at)
VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
ON CONFLICT (event_id) DO NOTHING`,
			m.EventID, m.AggregateID, m.Type, m.Payload, m.Traceparent, m.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// LockBatch claims due rows for relayID. A row is due when it is pending and
// its next attempt has come, or when another relay's lease on it expired. A
// row is skipped while an older row of the same aggregate is still
// undelivered, which keeps delivery FIFO per aggregate.
func (s *PGStore) LockBatch(ctx context.Context, relayID string, now time.Time, batchSize int, lease time.Duration) ([]Message, error) {
	var out []Message
	err := postgres.WithTx(ctx, s.pool, func(ctx context.Context) error {
		q := postgres.Conn(ctx, s.pool)
		rows, err := q.Query(ctx, `
SELECT o.id, o.event_id, o.aggregate_id, o.event_type, o.payload, o.traceparent, o.attempts, o.next_attempt_at, o.last_error, o.created_at
FROM outbox o
WHERE ((o.status = 'pending' AND o.next_attempt_at <= $1)
    OR (o.status = 'in_progress' AND o.lease_until < $1))
  AND NOT EXISTS (
	SELECT 1 FROM outbox p
	WHERE p.aggregate_id = o.aggregate_id
	  AND p.id < o.id
	  AND p.status IN ('pending', 'in_progress')
  )
ORDER BY o.id
LIMIT $2
FOR UPDATE SKIP LOCKED`, now, batchSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.EventID, &m.AggregateID, &m.Type, &m.Payload, &m.Traceparent,
				&m.Attempts, &m.NextAttemptAt, &m.LastError, &m.CreatedAt); err != nil {
				return err
			}
			m.Status = StatusInProgress
			out = append(out, m)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}

		_, err = q.Exec(ctx, `
UPDATE outbox SET status = 'in_progress', relay_id = $1, lease_until = $2
WHERE id = ANY($3)`, relayID, now.Add(lease), ids(out))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtendLease pushes the lease of rows relayID still holds. Rows another relay
// reclaimed in the meantime are left alone.
func (s *PGStore) ExtendLease(ctx context.Context, relayID string, ids []int64, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox SET lease_until = $3
WHERE id = ANY($1) AND relay_id = $2 AND status = 'in_progress'`, ids, relayID, until)
	return err
}

func (s *PGStore) MarkSent(ctx context.Context, id int64, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox SET status = 'sent', sent_at = $2, attempts = attempts + 1, lease_until = NULL, last_error = ''
WHERE id = $1`, id, now)
	return err
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, attempts int, next time.Time, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox SET status = 'pending', attempts = $2, next_attempt_at = $3, last_error = $4, lease_until = NULL
WHERE id = $1`, id, attempts, next, errMsg)
	return err
}

func (s *PGStore) MarkParked(ctx context.Context, id int64, attempts int, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox SET status = 'parked', attempts = $2, last_error = $3, lease_until = NULL
WHERE id = $1`, id, attempts, errMsg)
	return err
}

// Parked lists messages waiting for manual reconciliation, oldest first.
func (s *PGStore) Parked(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, event_id, aggregate_id, event_type, payload, traceparent, attempts, next_attempt_at, last_error, created_at
FROM outbox WHERE status = 'parked' ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m := Message{Status: StatusParked}
		if err := rows.Scan(&m.ID, &m.EventID, &m.AggregateID, &m.Type, &m.Payload, &m.Traceparent,
			&m.Attempts, &m.NextAttemptAt, &m.LastError, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
