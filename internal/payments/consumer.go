package payments

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
)

// PaymentRequestHandler runs ProcessPayment for payment.requested events and
// Refund for payment.refund_requested. Redelivery is safe: ProcessPayment
// returns the existing payment for an order that already has one with the
// same amount and method, and Refund returns a payment already cancelled.
type PaymentRequestHandler struct {
	orch *Orchestrator
	log  *zap.Logger
}

func NewPaymentRequestHandler(orch *Orchestrator, log *zap.Logger) *PaymentRequestHandler {
	return &PaymentRequestHandler{orch: orch, log: log}
}

func (h *PaymentRequestHandler) Handle(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		return apperr.Wrap(apperr.ErrValidation, "payment request", err)
	}
	switch env.EventType {
	case events.TypePaymentRequested:
	case events.TypeRefundRequested:
		return h.refund(ctx, env)
	default:
		return nil
	}
	payload, err := kafkax.UnwrapPayload[events.PaymentRequestedPayload](env.Payload)
	if err != nil {
		return apperr.Wrap(apperr.ErrValidation, "payment request", err)
	}
	log := h.log.With(zap.String("event_id", env.EventID), zap.String("order_id", payload.OrderID))

	req, err := RequestFromPayload(payload)
	if err != nil {
		log.Warn("payment request rejected", zap.Error(err))
		return err
	}
	p, err := h.orch.ProcessPayment(ctx, req)
	if err != nil {
		log.Warn("payment request not processed", zap.Error(err))
		return err
	}
	log.Info("payment request processed", zap.String("payment_id", p.ID), zap.String("status", string(p.Status)))
	return nil
}

func (h *PaymentRequestHandler) refund(ctx context.Context, env events.Envelope) error {
	payload, err := kafkax.UnwrapPayload[events.RefundRequestedPayload](env.Payload)
	if err != nil {
		return apperr.Wrap(apperr.ErrValidation, "refund request", err)
	}
	if payload.PaymentID == "" {
		return apperr.Validation("refund request: payment id is required")
	}
	log := h.log.With(zap.String("event_id", env.EventID), zap.String("payment_id", payload.PaymentID),
		zap.String("order_id", payload.OrderID))
	p, err := h.orch.Refund(ctx, payload.PaymentID, payload.Reason)
	if err != nil {
		log.Warn("refund request not processed", zap.Error(err))
		return err
	}
	log.Info("refund request processed", zap.String("status", string(p.Status)))
	return nil
}
