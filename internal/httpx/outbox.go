package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
)

type ParkedLister interface {
	Parked(ctx context.Context, limit int) ([]outbox.Message, error)
}

type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]kafkax.DeadLetter, error)
}

// OutboxHandler exposes parked outbox rows and rejected consumer messages for
// manual reconciliation.
type OutboxHandler struct {
	Store       ParkedLister
	DeadLetters DeadLetterLister
	Log         *zap.Logger
}

type parkedView struct {
	ID          int64           `json:"id"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	Type        string          `json:"event_type"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error"`
	CreatedAt   time.Time       `json:"created_at"`
	Envelope    json.RawMessage `json:"envelope"`
}

type deadLetterView struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	LastError string    `json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *OutboxHandler) Register(r chi.Router) {
	r.Get("/outbox/parked", h.parked)
	if h.DeadLetters != nil {
		r.Get("/consumer/dead-letters", h.deadLetters)
	}
}

func listLimit(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		return v
	}
	return 100
}

func (h *OutboxHandler) deadLetters(w http.ResponseWriter, r *http.Request) {
	list, err := h.DeadLetters.List(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]deadLetterView, 0, len(list))
	for _, d := range list {
		out = append(out, deadLetterView{
			ID:        d.ID,
			Topic:     d.Topic,
			Partition: d.Partition,
			Offset:    d.Offset,
			Key:       d.Key,
			Value:     string(d.Value),
			LastError: d.LastError,
			CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OutboxHandler) parked(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Store.Parked(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]parkedView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, parkedView{
			ID:          m.ID,
			EventID:     m.EventID,
			AggregateID: m.AggregateID,
			Type:        m.Type,
			Attempts:    m.Attempts,
			LastError:   m.LastError,
			CreatedAt:   m.CreatedAt,
			Envelope:    m.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
