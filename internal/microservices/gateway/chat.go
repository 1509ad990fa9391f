package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"chanhub/internal/asgi"
	"chanhub/internal/consumer"
	"chanhub/internal/layer"
)

// Chat application: the reference consumer served on /ws.
// Every connection joins the group named by the ?room= query parameter and
// relays its frames to that group through the layer, so chat works across
// gateway processes sharing a Redis backend.

const (
	DefaultRoom = "lobby"

	// layer message type used for chat broadcasts
	chatMessageType = "chat.message"
)

// roomFromScope picks the group to join for a connection
func roomFromScope(scope *asgi.Scope) string {
	values, err := url.ParseQuery(scope.RawQuery)
	if err != nil {
		return DefaultRoom
	}
	room := values.Get("room")
	if room == "" || layer.ValidGroupName(room) != nil {
		return DefaultRoom
	}
	return room
}

// senderName resolves the display name for a connection
func senderName(scope *asgi.Scope) string {
	if scope.Auth != nil && scope.Auth.Username != "" {
		return scope.Auth.Username
	}
	return "anonymous"
}

// NewChatApplication builds the chat consumer over l
func NewChatApplication(l layer.Layer) consumer.Application {
	return consumer.ApplicationFunc(func(ctx context.Context, scope *asgi.Scope, receive consumer.ReceiveFunc, send consumer.SendFunc) error {
		room := roomFromScope(scope)
		ws := &consumer.WebsocketConsumer{
			Layer:         l,
			Groups:        []string{room},
			ChannelPrefix: "chat",

			OnReceive: func(ctx context.Context, conn *consumer.Conn, event asgi.Event) error {
				text := event.Text()
				if text == "" {
					return nil
				}
				return l.GroupSend(ctx, room, layer.Message{
					"type":      chatMessageType,
					"room":      room,
					"user":      senderName(scope),
					"text":      text,
					"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
				})
			},

			LayerHandlers: map[string]func(ctx context.Context, conn *consumer.Conn, msg layer.Message) error{
				chatMessageType: func(ctx context.Context, conn *consumer.Conn, msg layer.Message) error {
					data, err := asgi.Event(msg).ToJSON()
					if err != nil {
						return fmt.Errorf("chat: encode broadcast: %w", err)
					}
					return conn.SendText(ctx, string(data))
				},
			},
		}
		return ws.Handle(ctx, scope, receive, send)
	})
}
