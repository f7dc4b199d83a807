package inventory

import (
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

// CodeInsufficientStock is the error code the stock endpoint answers with
// when a reservation cannot be satisfied.
const CodeInsufficientStock = "insufficient_stock"

var (
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", apperr.ErrConflict)
	ErrProductNotFound   = fmt.Errorf("%w: product", apperr.ErrNotFound)
	ErrKeyReused         = fmt.Errorf("%w: idempotency key reused for a different mutation", apperr.ErrConflict)
	ErrReservationVoided = fmt.Errorf("%w: reservation was voided", apperr.ErrConflict)
)

type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
