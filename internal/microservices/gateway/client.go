package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chanhub/internal/asgi"
)

// Individual websocket connection bridged to an application.
// The read pump turns frames into websocket.receive events; the application's
// send func turns websocket.send events back into frames via the write pump.

const ( // ping pong(2-way heartbeat) to keep connection alive
	WriteWait      = 10 * time.Second    // max time to write a message to the peer
	PongWait       = 60 * time.Second    // max time to wait for pong from peer => no pong = no connection
	PingPeriod     = (PongWait * 9) / 10 // send pings at 90% of the pong window to leave room for jitter
	MaxMessageSize = 64 * 1024           // maximum frame size allowed from peer

	// close codes used by the bridge itself
	closePolicyViolation = 1008
)

type Client struct {
	ID          string          // unique client ID
	Conn        *websocket.Conn // WebSocket connection
	Scope       *asgi.Scope     // scope handed to the application
	SendChannel chan outFrame   // buffered channel for outbound frames
	Limiter     *rate.Limiter   // rate limiter for inbound frames
	logger      *slog.Logger

	accepted bool          // application completed the accept handshake
	done     chan struct{} // closed when the write pump exits

	sendMu     sync.Mutex // guards SendChannel producers against CloseSend
	sendClosed bool
}

type outFrame struct {
	msgType int
	data    []byte
}

// constructor new client
func NewClient(conn *websocket.Conn, scope *asgi.Scope) *Client {
	return &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		Scope:       scope,
		SendChannel: make(chan outFrame, 64),
		Limiter:     rate.NewLimiter(rate.Limit(10), 20), // 10 msgs/sec with burst of 20
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}
}

// ReadPump reads frames off the socket and feeds them to out as events.
// The first event is always websocket.connect; the last is websocket.disconnect.
func (c *Client) ReadPump(ctx context.Context, out chan<- asgi.Event) {
	defer close(out)

	c.Conn.SetReadLimit(MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(PongWait))
	c.Conn.SetPongHandler(func(string) error {
		// any pong refreshes the read deadline
		c.Conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	pushEvent := func(event asgi.Event) bool {
		select {
		case out <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// the scope opens with websocket.connect
	if !pushEvent(asgi.WebsocketConnect()) {
		return
	}

	closeCode := 1005 // no status received
	for {
		msgType, data, err := c.Conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				closeCode = closeErr.Code
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("client_read_error",
					"client_id", c.ID,
					"error", err.Error(),
				)
			}
			break
		}

		// check rate limit
		if !c.Limiter.Allow() {
			c.logger.Warn("rate_limit_exceeded",
				"client_id", c.ID,
			)
			c.CloseWithCode(closePolicyViolation, "rate limit exceeded")
			closeCode = closePolicyViolation
			break
		}

		var event asgi.Event
		switch msgType {
		case websocket.TextMessage:
			event = asgi.WebsocketReceiveText(string(data))
		case websocket.BinaryMessage:
			event = asgi.WebsocketReceiveBytes(data)
		default:
			continue
		}
		if !pushEvent(event) {
			return
		}
	}

	pushEvent(asgi.WebsocketDisconnect(closeCode))
}

// WritePump drains SendChannel onto the socket and keeps the heartbeat going.
// Runs until SendChannel closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		close(c.done)
	}()

	for {
		select {
		case frame, ok := <-c.SendChannel:
			c.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				// bridge finished; tell the peer we are going away
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(frame.msgType, frame.data); err != nil {
				c.logger.Warn("client_write_error",
					"client_id", c.ID,
					"error", err.Error(),
				)
				return
			}
			if frame.msgType == websocket.CloseMessage {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a frame unless CloseSend already ran. The lock is what keeps
// a concurrent CloseSend from closing the channel mid-send.
func (c *Client) enqueue(frame outFrame) (queued, closed bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false, true
	}
	select {
	case c.SendChannel <- frame:
		return true, false
	default:
		return false, false
	}
}

// CloseSend closes SendChannel exactly once; the write pump drains out and
// sends the peer a close frame. Safe against concurrent Send/CloseWithCode.
func (c *Client) CloseSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.SendChannel)
}

// Send queues a frame for the write pump; drops the connection instead of
// blocking when the peer cannot keep up
func (c *Client) Send(msgType int, data []byte) error {
	queued, closed := c.enqueue(outFrame{msgType: msgType, data: data})
	if closed {
		return errors.New("gateway: connection closed")
	}
	if queued {
		return nil
	}
	c.logger.Warn("client_send_buffer_full",
		"client_id", c.ID,
	)
	c.CloseWithCode(closePolicyViolation, "send buffer overflow")
	return errors.New("gateway: send buffer full")
}

// CloseWithCode queues a close frame; the write pump exits after writing it
func (c *Client) CloseWithCode(code int, reason string) {
	frame := websocket.FormatCloseMessage(code, reason)
	queued, closed := c.enqueue(outFrame{msgType: websocket.CloseMessage, data: frame})
	if queued || closed {
		return
	}
	// buffer jammed; tear down directly
	c.Conn.Close()
}
