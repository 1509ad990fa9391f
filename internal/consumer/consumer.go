package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chanhub/internal/asgi"
)

// An Application handles one scope for its whole lifetime: it pulls events
// with receive, pushes events with send, and returns when the connection is
// over. Consumers are applications with an event-type dispatch loop on top.

// ErrStopConsumer ends a dispatch loop cleanly: the consumer stops and the
// caller sees a nil error. Any other error propagates.
var ErrStopConsumer = errors.New("consumer: stop")

// ErrNoHandler is returned when an event arrives for which no handler is registered
var ErrNoHandler = errors.New("consumer: no handler for event type")

type (
	ReceiveFunc func(ctx context.Context) (asgi.Event, error)
	SendFunc    func(ctx context.Context, event asgi.Event) error

	Application interface {
		Handle(ctx context.Context, scope *asgi.Scope, receive ReceiveFunc, send SendFunc) error
	}

	// ApplicationFunc adapts a plain function to Application
	ApplicationFunc func(ctx context.Context, scope *asgi.Scope, receive ReceiveFunc, send SendFunc) error

	// Handler processes a single event inside a dispatch loop
	Handler func(ctx context.Context, event asgi.Event) error
)

func (f ApplicationFunc) Handle(ctx context.Context, scope *asgi.Scope, receive ReceiveFunc, send SendFunc) error {
	return f(ctx, scope, receive, send)
}

// Dispatcher routes events to handlers by their type key
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// constructor for Dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
}

// On registers handler for eventType, replacing any previous one
func (d *Dispatcher) On(eventType string, handler Handler) *Dispatcher {
	d.handlers[eventType] = handler
	return d
}

// Dispatch routes a single event. Unknown event types are an error so a
// misrouted message fails loudly instead of vanishing.
func (d *Dispatcher) Dispatch(ctx context.Context, event asgi.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	handler, ok := d.handlers[event.Type()]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, event.Type())
	}
	return handler(ctx, event)
}

// Run is the consumer dispatch loop: receive events and route them until the
// source ends, ctx is done, or a handler stops the consumer.
func (d *Dispatcher) Run(ctx context.Context, receive ReceiveFunc) error {
	for {
		event, err := receive(ctx)
		if err != nil {
			if errors.Is(err, ErrStopConsumer) {
				// event source signalled a clean end of scope
				return nil
			}
			return err
		}
		if err := d.Dispatch(ctx, event); err != nil {
			if errors.Is(err, ErrStopConsumer) {
				// clean stop requested by a handler
				return nil
			}
			return err
		}
	}
}

// RunSync offloads a blocking handler to its own goroutine and waits for it,
// so a caller holding an event loop can still observe ctx cancellation while
// the handler runs. The handler itself is not interrupted.
func RunSync(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
