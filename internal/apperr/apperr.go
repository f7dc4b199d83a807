// Package apperr is the error taxonomy shared by the saga services. Every
// error crossing a service boundary wraps exactly one of the kind sentinels
// so transports can map it with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	// ErrTransient marks downstream failures that the caller should retry.
	ErrTransient = errors.New("transient failure")
	// ErrStaleVersion is returned by versioned writes whose expected version
	// no longer matches. It is also a conflict.
	ErrStaleVersion = fmt.Errorf("%w: stale version", ErrConflict)
	// ErrDuplicate marks an event or request that was already applied.
	ErrDuplicate = errors.New("already applied")
)

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() []error {
	if e.err != nil {
		return []error{e.kind, e.err}
	}
	return []error{e.kind}
}

func Validation(msg string) error { return &kindError{kind: ErrValidation, msg: msg} }

func NotFound(what string) error { return &kindError{kind: ErrNotFound, msg: what + " not found"} }

func Conflict(msg string) error { return &kindError{kind: ErrConflict, msg: msg} }

// Transient wraps err so both ErrTransient and the original error match.
func Transient(msg string, err error) error {
	return &kindError{kind: ErrTransient, msg: msg, err: err}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind error, msg string, err error) error {
	return &kindError{kind: kind, msg: msg, err: err}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }

// Retryable reports whether err may succeed on a later attempt. Business
// outcomes (validation, missing entity, conflict) never will.
func Retryable(err error) bool {
	return err != nil && !IsValidation(err) && !IsNotFound(err) && !IsConflict(err) && !errors.Is(err, ErrDuplicate)
}
