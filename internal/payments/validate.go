package payments

import (
	"regexp"
	"strings"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

var (
	expiryPattern = regexp.MustCompile(`^\d{2}/\d{2}$`)
	cvcPattern    = regexp.MustCompile(`^\d{3}$`)
)

const minCardNumberLen = 15

func Validate(req ProcessRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return apperr.Validation("order id is required")
	}
	if !req.Amount.IsPositive() {
		return apperr.Validation("amount must be positive")
	}
	if !req.Method.Valid() {
		return apperr.Validation("unsupported payment method " + string(req.Method))
	}
	if req.Method == MethodCard {
		in := req.Instrument
		if len(in.CardNumber) < minCardNumberLen {
			return apperr.Validation("card number must have at least 15 digits")
		}
		if !expiryPattern.MatchString(in.CardExpiry) {
			return apperr.Validation("card expiry must be MM/YY")
		}
		if !cvcPattern.MatchString(in.CardCvc) {
			return apperr.Validation("card cvc must be 3 digits")
		}
	}
	return nil
}
