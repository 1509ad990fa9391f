package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chanhub/internal/asgi"
	"chanhub/internal/layer"
)

// WebsocketConsumer implements the documented websocket consumer lifecycle:
// accept (or refuse) on websocket.connect, own a fresh process-specific
// channel on the layer, join the configured groups, pump layer messages back
// into the dispatch loop so group broadcasts reach the socket, and leave the
// groups again on disconnect. Group expiry, not explicit cleanup, is the
// backstop when a disconnect handler never runs.

type WebsocketConsumer struct {
	Layer         layer.Layer // nil = no layer features for this consumer
	Groups        []string    // groups joined after accept
	ChannelPrefix string      // prefix for the per-connection layer channel

	// OnConnect decides accept/refuse. Default accepts. Return
	// ErrStopConsumer (or call conn.Close) to refuse.
	OnConnect func(ctx context.Context, conn *Conn) error

	// OnReceive handles a frame from the socket
	OnReceive func(ctx context.Context, conn *Conn, event asgi.Event) error

	// OnDisconnect runs when the peer goes away. May not run at all on
	// abrupt failure; do not rely on it for group cleanup.
	OnDisconnect func(ctx context.Context, conn *Conn, code int)

	// LayerHandlers routes layer messages by their type key, the same way
	// socket events route. Unrouted layer message types are logged and dropped.
	LayerHandlers map[string]func(ctx context.Context, conn *Conn, msg layer.Message) error

	Logger *slog.Logger
}

// Conn is the per-connection handle passed to callbacks
type Conn struct {
	Scope       *asgi.Scope
	ChannelName string // this connection's layer channel, "" without a layer

	consumer *WebsocketConsumer
	send     SendFunc
	closed   bool
	mu       sync.Mutex
}

// Accept completes the websocket handshake
func (c *Conn) Accept(ctx context.Context) error {
	return c.send(ctx, asgi.WebsocketAccept(""))
}

// AcceptSubprotocol completes the handshake selecting a subprotocol
func (c *Conn) AcceptSubprotocol(ctx context.Context, subprotocol string) error {
	return c.send(ctx, asgi.WebsocketAccept(subprotocol))
}

// SendText pushes a text frame to the peer
func (c *Conn) SendText(ctx context.Context, text string) error {
	return c.send(ctx, asgi.WebsocketSendText(text))
}

// SendBytes pushes a binary frame to the peer
func (c *Conn) SendBytes(ctx context.Context, data []byte) error {
	return c.send(ctx, asgi.WebsocketSendBytes(data))
}

// Close asks the gateway to close the socket with code
func (c *Conn) Close(ctx context.Context, code int) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.send(ctx, asgi.WebsocketClose(code))
}

// GroupAdd joins an extra group at runtime
func (c *Conn) GroupAdd(ctx context.Context, group string) error {
	if c.consumer.Layer == nil || c.ChannelName == "" {
		return errors.New("consumer: no channel layer configured")
	}
	return c.consumer.Layer.GroupAdd(ctx, group, c.ChannelName)
}

// GroupDiscard leaves a group at runtime
func (c *Conn) GroupDiscard(ctx context.Context, group string) error {
	if c.consumer.Layer == nil || c.ChannelName == "" {
		return errors.New("consumer: no channel layer configured")
	}
	return c.consumer.Layer.GroupDiscard(ctx, group, c.ChannelName)
}

func (w *WebsocketConsumer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// incoming merges socket events and layer messages into one stream
type incoming struct {
	event asgi.Event
	msg   layer.Message
	err   error
}

func (w *WebsocketConsumer) Handle(ctx context.Context, scope *asgi.Scope, receive ReceiveFunc, send SendFunc) error {
	conn := &Conn{Scope: scope, consumer: w, send: send}

	// the scope opens with websocket.connect before anything else
	first, err := receive(ctx)
	if err != nil {
		return err
	}
	if first.Type() != asgi.EventWSConnect {
		return errors.New("consumer: websocket scope did not open with websocket.connect")
	}

	if w.OnConnect != nil {
		if err := w.OnConnect(ctx, conn); err != nil {
			if errors.Is(err, ErrStopConsumer) {
				return nil
			}
			return err
		}
	} else {
		if err := conn.Accept(ctx); err != nil {
			return err
		}
	}
	if conn.closed {
		// OnConnect refused the connection
		return nil
	}

	// per-connection layer channel + group membership
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pump := make(chan incoming)
	if w.Layer != nil {
		name, err := w.Layer.NewChannel(ctx, w.ChannelPrefix)
		if err != nil {
			return err
		}
		conn.ChannelName = name
		for _, group := range w.Groups {
			if err := w.Layer.GroupAdd(ctx, group, name); err != nil {
				return err
			}
		}
		defer func() {
			// best effort; expiry handles the rest if we never get here
			for _, group := range w.Groups {
				if err := w.Layer.GroupDiscard(context.Background(), group, name); err != nil {
					w.logger().Warn("group_discard_failed",
						"group", group,
						"channel", name,
						"error", err.Error(),
					)
				}
			}
		}()
		go func() {
			for {
				msg, err := w.Layer.Receive(ctx, name)
				if err != nil {
					return // ctx canceled or layer closed
				}
				select {
				case pump <- incoming{msg: msg}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// socket events feed the same pump so one loop below sees everything
	go func() {
		for {
			event, err := receive(ctx)
			select {
			case pump <- incoming{event: event, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var in incoming
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in = <-pump:
		}
		if in.err != nil {
			if errors.Is(in.err, ErrStopConsumer) {
				return nil
			}
			return in.err
		}
		if in.msg != nil {
			if err := w.dispatchLayer(ctx, conn, in.msg); err != nil {
				if errors.Is(err, ErrStopConsumer) {
					return nil
				}
				return err
			}
			continue
		}
		switch in.event.Type() {
		case asgi.EventWSReceive:
			if w.OnReceive == nil {
				continue
			}
			if err := w.OnReceive(ctx, conn, in.event); err != nil {
				if errors.Is(err, ErrStopConsumer) {
					return nil
				}
				return err
			}
		case asgi.EventWSDisconnect:
			if w.OnDisconnect != nil {
				w.OnDisconnect(ctx, conn, in.event.CloseCode())
			}
			return nil
		default:
			w.logger().Warn("unexpected_socket_event",
				"type", in.event.Type(),
			)
		}
	}
}

func (w *WebsocketConsumer) dispatchLayer(ctx context.Context, conn *Conn, msg layer.Message) error {
	handler, ok := w.LayerHandlers[msg.Type()]
	if !ok {
		w.logger().Warn("unrouted_layer_message",
			"type", msg.Type(),
			"channel", conn.ChannelName,
		)
		return nil
	}
	return handler(ctx, conn, msg)
}
