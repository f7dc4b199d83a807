package payments

import (
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Status string

const (
	StatusReady     Status = "READY"
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

var (
	ErrInvalidTransition = fmt.Errorf("%w: invalid payment transition", apperr.ErrConflict)
	// ErrNotCancellable is returned by CancelPayment for any payment that
	// is not COMPLETED.
	ErrNotCancellable = fmt.Errorf("%w: only completed payments can be cancelled", apperr.ErrConflict)
)

var validNext = map[Status]map[Status]bool{
	StatusReady:     {StatusPending: true},
	StatusPending:   {StatusCompleted: true, StatusFailed: true},
	StatusCompleted: {StatusCancelled: true},
	StatusFailed:    {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", apperr.Validation(fmt.Sprintf("unknown payment status %q", s))
	}
	return st, nil
}

type Method string

const (
	MethodCard    Method = "CARD"
	MethodBank    Method = "BANK"
	MethodVirtual Method = "VIRTUAL"
	MethodMobile  Method = "MOBILE"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodBank, MethodVirtual, MethodMobile:
		return true
	}
	return false
}
