package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/inventory"
)

type StockService interface {
	Create(ctx context.Context, name string, stock int) (inventory.Product, error)
	Get(ctx context.Context, id int64) (inventory.Product, error)
	Reserve(ctx context.Context, id int64, quantity int, key string) (inventory.Product, error)
	Release(ctx context.Context, id int64, quantity int, key string) (inventory.Product, error)
	Void(ctx context.Context, id int64, reserveKey string) (inventory.Product, error)
}

type InventoryHandler struct {
	Stock StockService
	Log   *zap.Logger
}

type createProductReq struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/products", h.create)
	r.Get("/products/{id}", h.get)
	r.Put("/products/{id}/stock", h.reserve)
	r.Post("/products/{id}/release", h.release)
	r.Delete("/products/{id}/reservations/{key}", h.void)
}

func (h *InventoryHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Stock.Create(r.Context(), req.Name, req.Stock)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(chi.URLParam(r, "id"), "product id")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Stock.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// reserve answers an unsatisfiable reservation with 400 and code
// insufficient_stock; the reservation client keys off the code.
func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Stock.Reserve)
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Stock.Release)
}

func (h *InventoryHandler) void(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(chi.URLParam(r, "id"), "product id")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Stock.Void(r.Context(), id, chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *InventoryHandler) mutate(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id int64, quantity int, key string) (inventory.Product, error),
) {
	id, err := int64Param(chi.URLParam(r, "id"), "product id")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	qty, err := positiveQuery(r, "quantity")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := fn(r.Context(), id, qty, r.Header.Get("Idempotency-Key"))
	if errors.Is(err, inventory.ErrInsufficientStock) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: inventory.CodeInsufficientStock})
		return
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
