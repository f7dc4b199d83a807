package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/payments"
)

type PaymentService interface {
	ProcessPayment(ctx context.Context, req payments.ProcessRequest) (payments.Payment, error)
	CancelPayment(ctx context.Context, id, reason string) (payments.Payment, error)
	Refund(ctx context.Context, id, reason string) (payments.Payment, error)
	Get(ctx context.Context, id string) (payments.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]payments.Payment, error)
	ListByStatus(ctx context.Context, status payments.Status) ([]payments.Payment, error)
}

type PaymentsHandler struct {
	Payments PaymentService
	Log      *zap.Logger
}

// processPaymentReq accepts the amount as a JSON number or string, so the
// order service can post its payment.requested payload as is.
type processPaymentReq struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	CardNumber string          `json:"card_number"`
	CardExpiry string          `json:"card_expiry"`
	CardCvc    string          `json:"card_cvc"`
}

type cancelPaymentReq struct {
	Reason string `json:"reason"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments", h.process)
	r.Post("/payments/{id}/cancel", h.cancel)
	r.Post("/payments/{id}/refund", h.refund)
	r.Get("/payments/{id}", h.get)
	r.Get("/payments/order/{orderId}", h.byOrder)
	r.Get("/payments/status/{status}", h.byStatus)
}

func (h *PaymentsHandler) process(w http.ResponseWriter, r *http.Request) {
	var req processPaymentReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Payments.ProcessPayment(r.Context(), payments.ProcessRequest{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Amount:  req.Amount,
		Method:  payments.Method(strings.ToUpper(req.Method)),
		Instrument: payments.Instrument{
			CardNumber: req.CardNumber,
			CardExpiry: req.CardExpiry,
			CardCvc:    req.CardCvc,
		},
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PaymentsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelPaymentReq
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by request"
	}
	p, err := h.Payments.CancelPayment(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// refund is cancel for the order service: a payment already cancelled is
// answered with 200 instead of 409.
func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req cancelPaymentReq
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "refund requested"
	}
	p, err := h.Payments.Refund(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) byOrder(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Payments.ListByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ps == nil {
		ps = []payments.Payment{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *PaymentsHandler) byStatus(w http.ResponseWriter, r *http.Request) {
	st, err := payments.ParseStatus(strings.ToUpper(chi.URLParam(r, "status")))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ps, err := h.Payments.ListByStatus(r.Context(), st)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ps == nil {
		ps = []payments.Payment{}
	}
	writeJSON(w, http.StatusOK, ps)
}
