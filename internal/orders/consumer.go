package orders

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
)

type Dedup interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) (bool, error)
}

// PaymentOutcomeHandler applies payment outcomes read from kafka.
type PaymentOutcomeHandler struct {
	coord *Coordinator
	dedup Dedup
	log   *zap.Logger
}

func NewPaymentOutcomeHandler(coord *Coordinator, dedup Dedup, log *zap.Logger) *PaymentOutcomeHandler {
	return &PaymentOutcomeHandler{coord: coord, dedup: dedup, log: log}
}

func (h *PaymentOutcomeHandler) Handle(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		return apperr.Wrap(apperr.ErrValidation, "payment outcome", err)
	}
	if !events.IsPaymentOutcome(env.EventType) {
		return nil
	}
	log := h.log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	if seen, err := h.dedup.Seen(ctx, env.EventID); err != nil {
		log.Warn("dedup lookup failed", zap.Error(err))
	} else if seen {
		log.Debug("duplicate payment outcome skipped")
		return nil
	}

	p, err := kafkax.UnwrapPayload[events.PaymentOutcomePayload](env.Payload)
	if err != nil {
		return apperr.Wrap(apperr.ErrValidation, "payment outcome", err)
	}
	o, err := h.coord.ApplyPaymentEvent(ctx, PaymentEvent{
		EventID:    env.EventID,
		Type:       env.EventType,
		PaymentID:  p.PaymentID,
		OrderID:    p.OrderID,
		PaymentKey: p.PaymentKey,
		Reason:     p.Reason,
	})
	if err != nil {
		log.Warn("payment outcome not applied", zap.String("order_id", p.OrderID), zap.Error(err))
		return err
	}
	if _, err := h.dedup.Mark(ctx, env.EventID); err != nil {
		log.Warn("dedup mark failed", zap.Error(err))
	}
	log.Info("payment outcome applied", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
	return nil
}
