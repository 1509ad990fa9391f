package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"chanhub/internal/asgi"
	"chanhub/internal/consumer"
	"chanhub/internal/layer"
)

// Routing is deliberately exact-match: scopes route by protocol type and
// worker messages route by channel name. Anything fancier (pattern matching
// on paths and the like) is out of scope here; the gateway's HTTP framework
// owns URL routing.

var (
	ErrUnknownProtocol = errors.New("router: no application for scope type")
	ErrUnknownChannel  = errors.New("router: no application for channel")
)

// ProtocolTypeRouter picks an application by scope type ("http", "websocket", ...)
type ProtocolTypeRouter map[string]consumer.Application

func (r ProtocolTypeRouter) Handle(ctx context.Context, scope *asgi.Scope, receive consumer.ReceiveFunc, send consumer.SendFunc) error {
	app, ok := r[scope.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProtocol, scope.Type)
	}
	return app.Handle(ctx, scope, receive, send)
}

// ChannelNameRouter picks an application by the channel a worker message
// arrived on
type ChannelNameRouter struct {
	routes map[string]consumer.Application
}

// constructor for ChannelNameRouter
func NewChannelNameRouter() *ChannelNameRouter {
	return &ChannelNameRouter{routes: make(map[string]consumer.Application)}
}

// Route registers app for channel. Channel names are validated here so a
// worker never starts consuming a name the layer would reject.
func (r *ChannelNameRouter) Route(channel string, app consumer.Application) error {
	if err := layer.ValidChannelName(channel); err != nil {
		return err
	}
	if layer.IsProcessSpecific(channel) {
		return fmt.Errorf("%w: worker channels must not be process-specific: %q", layer.ErrInvalidChannelName, channel)
	}
	r.routes[channel] = app
	return nil
}

// Lookup returns the application routed for channel
func (r *ChannelNameRouter) Lookup(channel string) (consumer.Application, error) {
	app, ok := r.routes[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return app, nil
}

// Channels returns the routed channel names, sorted for stable iteration
func (r *ChannelNameRouter) Channels() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
