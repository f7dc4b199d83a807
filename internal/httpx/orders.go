package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/payments"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateRequest) (orders.Order, error)
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	UpdateStatus(ctx context.Context, id string, to orders.Status, message string) (orders.Order, error)
	GetHistory(ctx context.Context, id string) ([]orders.HistoryEntry, error)
	ApplyPaymentEvent(ctx context.Context, ev orders.PaymentEvent) (orders.Order, error)
}

type OrdersHandler struct {
	Orders OrderService
	Log    *zap.Logger
}

type createOrderReq struct {
	ExternalID string        `json:"external_id"`
	ProductID  int64         `json:"product_id"`
	Quantity   int           `json:"quantity"`
	Payment    *orderPayment `json:"payment,omitempty"`
}

type orderPayment struct {
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	CardNumber string          `json:"card_number"`
	CardExpiry string          `json:"card_expiry"`
	CardCvc    string          `json:"card_cvc"`
}

type updateStatusReq struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// paymentKinds maps the last path segment of the payment notification
// endpoints to event types.
var paymentKinds = map[string]string{
	"pending":  events.TypePaymentPending,
	"complete": events.TypePaymentCompleted,
	"fail":     events.TypePaymentFailed,
	"cancel":   events.TypePaymentCancelled,
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/status", h.updateStatus)
	r.Get("/orders/{id}/history", h.history)
	r.Put("/orders/{id}/payment/{kind}", h.paymentEvent)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	in := orders.CreateRequest{
		ExternalID: req.ExternalID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		in.ExternalID = key
	}
	if p := req.Payment; p != nil {
		in.Payment = &orders.PaymentRequest{
			UserID:     r.Header.Get("X-User-Id"),
			Amount:     p.Amount,
			Method:     p.Method,
			CardNumber: p.CardNumber,
			CardExpiry: p.CardExpiry,
			CardCvc:    p.CardCvc,
		}
	}

	o, err := h.Orders.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	to, err := orders.ParseStatus(strings.ToUpper(req.Status))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), to, req.Message)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) history(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Orders.GetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// paymentEvent is the HTTP twin of the kafka outcome consumer. Repeating a
// notification returns the order unchanged.
func (h *OrdersHandler) paymentEvent(w http.ResponseWriter, r *http.Request) {
	typ, ok := paymentKinds[chi.URLParam(r, "kind")]
	if !ok {
		writeError(w, h.Log, apperr.NotFound("payment notification "+chi.URLParam(r, "kind")))
		return
	}
	var n payments.OutcomeNotice
	if err := decodeOptionalJSON(r, &n); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if n.EventID == "" {
		n.EventID = r.Header.Get("X-Event-Id")
	}
	o, err := h.Orders.ApplyPaymentEvent(r.Context(), orders.PaymentEvent{
		EventID:    n.EventID,
		Type:       typ,
		PaymentID:  n.PaymentID,
		OrderID:    chi.URLParam(r, "id"),
		PaymentKey: n.PaymentKey,
		Reason:     n.Reason,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
