package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	// StatusParked rows exhausted their attempts or failed permanently. They
	// stay in the table for manual reconciliation.
	StatusParked Status = "parked"
)

type Message struct {
	ID          int64
	EventID     string
	AggregateID string
	Type        string
	// Payload is the JSON-encoded events.Envelope.
	Payload       []byte
	Traceparent   string
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// New builds a pending message wrapping payload in an envelope. The trace
// context of ctx travels with the row so the relay can restore it.
func New(ctx context.Context, producer, eventID, eventType, aggregateID string, payload any, now time.Time) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	tp := tracing.Traceparent(ctx)
	env := events.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now,
		Producer:      producer,
		TraceID:       traceID(tp),
		CorrelationID: aggregateID,
		Payload:       body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s envelope: %w", eventType, err)
	}
	return Message{
		EventID:       eventID,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       raw,
		Traceparent:   tp,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// Envelope decodes the stored payload.
func (m Message) Envelope() (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil {
		return env, fmt.Errorf("decode outbox %s: %w", m.EventID, err)
	}
	return env, nil
}

// traceparent is version-traceid-spanid-flags.
func traceID(traceparent string) string {
	if len(traceparent) < 35 {
		return ""
	}
	return traceparent[3:35]
}
