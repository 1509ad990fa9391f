package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chanhub/internal/asgi"
	"chanhub/internal/consumer"
	"chanhub/internal/layer"
	"chanhub/internal/router"
)

// Worker is the runworker runtime: it pulls messages off the routed channels
// and dispatches each one as a "channel"-scoped event to the application
// registered for that channel. One receive loop per channel, handler runs on
// a bounded goroutine pool shared across channels.

type Worker struct {
	layer       layer.Layer
	router      *router.ChannelNameRouter
	concurrency int
	logger      *slog.Logger
}

// constructor for Worker
func New(l layer.Layer, r *router.ChannelNameRouter, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		layer:       l,
		router:      r,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Run consumes the routed channels until ctx is done. Always returns the
// ctx error once every in-flight handler has finished.
func (w *Worker) Run(ctx context.Context) error {
	channels := w.router.Channels()
	if len(channels) == 0 {
		return errors.New("worker: no channels routed")
	}
	w.logger.Info("worker_started",
		"channels", channels,
		"concurrency", w.concurrency,
	)

	// bounded pool shared by all channel loops
	slots := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, channel := range channels {
		app, err := w.router.Lookup(channel)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(channel string, app consumer.Application) {
			defer wg.Done()
			w.consumeLoop(ctx, channel, app, slots, &wg)
		}(channel, app)
	}

	wg.Wait()
	w.logger.Info("worker_stopped")
	return ctx.Err()
}

func (w *Worker) consumeLoop(ctx context.Context, channel string, app consumer.Application, slots chan struct{}, wg *sync.WaitGroup) {
	for {
		msg, err := w.layer.Receive(ctx, channel)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, layer.ErrClosed) {
				return
			}
			w.logger.Error("worker_receive_error",
				"channel", channel,
				"error", err.Error(),
			)
			continue
		}

		// take a pool slot before handing off, so a burst of messages
		// cannot spawn unbounded handlers
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(msg layer.Message) {
			defer wg.Done()
			defer func() { <-slots }()
			w.dispatch(ctx, channel, app, msg)
		}(msg)
	}
}

// dispatch hands one message to the routed application as a one-event scope
func (w *Worker) dispatch(ctx context.Context, channel string, app consumer.Application, msg layer.Message) {
	// a handler panic must not take the whole worker down
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker_handler_panic",
				"channel", channel,
				"panic", r,
			)
		}
	}()

	scope := asgi.NewChannelScope(channel)
	delivered := false
	receive := func(ctx context.Context) (asgi.Event, error) {
		if delivered {
			// one message per scope; the second receive ends the scope
			return nil, consumer.ErrStopConsumer
		}
		delivered = true
		return asgi.Event(msg), nil
	}
	send := func(ctx context.Context, event asgi.Event) error {
		return errors.New("worker: channel scopes have no send path")
	}

	if err := app.Handle(ctx, scope, receive, send); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("worker_handler_error",
			"channel", channel,
			"type", msg.Type(),
			"error", err.Error(),
		)
	}
}
