package outbox

import (
	"context"
	"errors"
	"fmt"
)

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SenderFunc func(ctx context.Context, m Message) error

func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// Permanent wraps err so the relay parks the message instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// Router picks a sender by event type.
type Router map[string]Sender

func (r Router) Send(ctx context.Context, m Message) error {
	s, ok := r[m.Type]
	if !ok {
		return Permanent(fmt.Errorf("no route for event type %q", m.Type))
	}
	return s.Send(ctx, m)
}
