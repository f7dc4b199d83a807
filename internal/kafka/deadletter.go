package kafka

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type DeadLetter struct {
	ID        int64
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	LastError string
	CreatedAt time.Time
}

// PGDeadLetters keeps rejected messages in the dead_letters table of the
// consuming service. Parking the same offset twice keeps one row.
type PGDeadLetters struct {
	pool *pgxpool.Pool
}

func NewPGDeadLetters(pool *pgxpool.Pool) *PGDeadLetters { return &PGDeadLetters{pool: pool} }

func (s *PGDeadLetters) Park(ctx context.Context, m kafka.Message, cause error) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO dead_letters (topic, msg_partition, msg_offset, msg_key, value, last_error)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (topic, msg_partition, msg_offset) DO UPDATE SET last_error = EXCLUDED.last_error`,
		m.Topic, m.Partition, m.Offset, string(m.Key), m.Value, cause.Error())
	return err
}

// List returns parked messages, oldest first.
func (s *PGDeadLetters) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, msg_partition, msg_offset, msg_key, value, last_error, created_at
FROM dead_letters ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.Topic, &d.Partition, &d.Offset, &d.Key, &d.Value, &d.LastError, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
