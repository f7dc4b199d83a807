package orders

import (
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusPaymentPending   Status = "PAYMENT_PENDING"
	StatusPaymentCompleted Status = "PAYMENT_COMPLETED"
	StatusPaymentFailed    Status = "PAYMENT_FAILED"
	StatusConfirmed        Status = "CONFIRMED"
	StatusCompleted        Status = "COMPLETED"
	StatusCancelled        Status = "CANCELLED"
)

var ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", apperr.ErrConflict)

var validNext = map[Status]map[Status]bool{
	StatusCreated:          {StatusPaymentPending: true, StatusCancelled: true},
	StatusPaymentPending:   {StatusPaymentCompleted: true, StatusPaymentFailed: true},
	StatusPaymentCompleted: {StatusConfirmed: true},
	StatusConfirmed:        {StatusCompleted: true, StatusCancelled: true},
	StatusPaymentFailed:    {StatusCancelled: true},
	StatusCompleted:        {},
	StatusCancelled:        {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown order status %q", s))
	}
	return st, nil
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
