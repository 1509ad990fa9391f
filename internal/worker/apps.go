package worker

import (
	"context"
	"errors"
	"log/slog"

	"chanhub/internal/asgi"
	"chanhub/internal/consumer"
	"chanhub/internal/layer"
)

// Stock applications for runworker: a structured-log sink and an echo
// responder. Both are one-message scopes driven by the worker dispatch loop.

// LogApplication logs every message it is handed
func LogApplication() consumer.Application {
	return consumer.ApplicationFunc(func(ctx context.Context, scope *asgi.Scope, receive consumer.ReceiveFunc, send consumer.SendFunc) error {
		for {
			event, err := receive(ctx)
			if err != nil {
				if errors.Is(err, consumer.ErrStopConsumer) {
					return nil
				}
				return err
			}
			slog.Info("worker_message",
				"channel", scope.Channel,
				"type", event.Type(),
				"payload", map[string]any(event),
			)
		}
	})
}

// EchoApplication answers each message on the channel named by its
// "reply_to" key. Messages without a reply_to are logged and dropped.
func EchoApplication(l layer.Layer) consumer.Application {
	return consumer.ApplicationFunc(func(ctx context.Context, scope *asgi.Scope, receive consumer.ReceiveFunc, send consumer.SendFunc) error {
		for {
			event, err := receive(ctx)
			if err != nil {
				if errors.Is(err, consumer.ErrStopConsumer) {
					return nil
				}
				return err
			}
			replyTo, _ := event["reply_to"].(string)
			if replyTo == "" {
				slog.Warn("echo_missing_reply_to",
					"channel", scope.Channel,
					"type", event.Type(),
				)
				continue
			}
			reply := layer.Message{
				"type":    "echo.reply",
				"echoed":  event.Type(),
				"channel": scope.Channel,
			}
			if text, ok := event["text"]; ok {
				reply["text"] = text
			}
			if err := l.Send(ctx, replyTo, reply); err != nil {
				slog.Warn("echo_reply_failed",
					"reply_to", replyTo,
					"error", err.Error(),
				)
			}
		}
	})
}
