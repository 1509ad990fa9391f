package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chanhub/internal/asgi"
	"chanhub/internal/consumer"
)

// Communicators drive an application in-process for tests: feed it events,
// collect what it sends back, and assert on timing. No sockets involved.

var (
	ErrTimeout  = errors.New("testutil: timed out waiting for event")
	ErrFinished = errors.New("testutil: application already finished")
)

type ApplicationCommunicator struct {
	input  chan asgi.Event
	output chan asgi.Event
	done   chan struct{}
	err    error // application's return value, valid after done closes
	cancel context.CancelFunc
}

// NewApplicationCommunicator starts app against scope on an in-memory pipe
func NewApplicationCommunicator(app consumer.Application, scope *asgi.Scope) *ApplicationCommunicator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &ApplicationCommunicator{
		input:  make(chan asgi.Event, 16),
		output: make(chan asgi.Event, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	receive := func(ctx context.Context) (asgi.Event, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event := <-c.input:
			return event, nil
		}
	}
	send := func(ctx context.Context, event asgi.Event) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c.output <- event:
			return nil
		}
	}

	go func() {
		defer close(c.done)
		c.err = app.Handle(ctx, scope, receive, send)
	}()
	return c
}

// SendInput feeds one event to the application
func (c *ApplicationCommunicator) SendInput(event asgi.Event) error {
	select {
	case <-c.done:
		return ErrFinished
	case c.input <- event:
		return nil
	}
}

// ReceiveOutput waits up to timeout for the application's next outbound event
func (c *ApplicationCommunicator) ReceiveOutput(timeout time.Duration) (asgi.Event, error) {
	select {
	case event := <-c.output:
		return event, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// ReceiveNothing reports whether the application stayed silent for dur
func (c *ApplicationCommunicator) ReceiveNothing(dur time.Duration) bool {
	select {
	case event := <-c.output:
		// put it back for the next ReceiveOutput call
		c.output <- event
		return false
	case <-time.After(dur):
		return true
	}
}

// Wait blocks until the application returns and reports its error
func (c *ApplicationCommunicator) Wait(timeout time.Duration) error {
	select {
	case <-c.done:
		return c.err
	case <-time.After(timeout):
		return ErrTimeout
	}
}

// Stop cancels the application's context and waits for it to exit
func (c *ApplicationCommunicator) Stop() {
	c.cancel()
	<-c.done
}

// WebsocketCommunicator layers the websocket handshake and frame helpers on
// top of ApplicationCommunicator
type WebsocketCommunicator struct {
	*ApplicationCommunicator
}

// NewWebsocketCommunicator builds a communicator with a websocket scope for path
func NewWebsocketCommunicator(app consumer.Application, path, rawQuery string) *WebsocketCommunicator {
	scope := &asgi.Scope{
		Type:     asgi.ScopeWebsocket,
		Path:     path,
		RawQuery: rawQuery,
	}
	return NewWebsocketCommunicatorScope(app, scope)
}

// NewWebsocketCommunicatorScope builds a communicator with a caller-owned scope
func NewWebsocketCommunicatorScope(app consumer.Application, scope *asgi.Scope) *WebsocketCommunicator {
	return &WebsocketCommunicator{
		ApplicationCommunicator: NewApplicationCommunicator(app, scope),
	}
}

// Connect performs the open handshake. Returns the accept event, or the
// close event when the application refused the connection.
func (c *WebsocketCommunicator) Connect(timeout time.Duration) (asgi.Event, error) {
	if err := c.SendInput(asgi.WebsocketConnect()); err != nil {
		return nil, err
	}
	event, err := c.ReceiveOutput(timeout)
	if err != nil {
		return nil, err
	}
	switch event.Type() {
	case asgi.EventWSAccept, asgi.EventWSClose:
		return event, nil
	default:
		return nil, fmt.Errorf("testutil: unexpected handshake event %q", event.Type())
	}
}

// SendText feeds a text frame to the application
func (c *WebsocketCommunicator) SendText(text string) error {
	return c.SendInput(asgi.WebsocketReceiveText(text))
}

// SendJSON feeds v marshalled to JSON as a text frame
func (c *WebsocketCommunicator) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendText(string(data))
}

// ReceiveText waits for the next outbound text frame
func (c *WebsocketCommunicator) ReceiveText(timeout time.Duration) (string, error) {
	event, err := c.ReceiveOutput(timeout)
	if err != nil {
		return "", err
	}
	if event.Type() != asgi.EventWSSend {
		return "", fmt.Errorf("testutil: expected websocket.send, got %q", event.Type())
	}
	return event.Text(), nil
}

// ReceiveJSON waits for the next outbound text frame and unmarshals it into v
func (c *WebsocketCommunicator) ReceiveJSON(timeout time.Duration, v any) error {
	text, err := c.ReceiveText(timeout)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), v)
}

// Disconnect simulates the peer going away with code and waits for the
// application to finish
func (c *WebsocketCommunicator) Disconnect(code int, timeout time.Duration) error {
	if err := c.SendInput(asgi.WebsocketDisconnect(code)); err != nil {
		if errors.Is(err, ErrFinished) {
			return nil
		}
		return err
	}
	return c.Wait(timeout)
}
