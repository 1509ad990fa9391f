package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chanhub/internal/config"
	"chanhub/internal/layer"
	"chanhub/internal/layer/redislayer"
	"chanhub/internal/router"
	"chanhub/internal/worker"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var channelsFlag string
	var echo bool
	flag.StringVar(&channelsFlag, "channels", "background", "comma-separated channel names to consume")
	flag.BoolVar(&echo, "echo", false, "run the echo application instead of the log sink")
	flag.Parse()

	// Load config (fallback to env/default)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	l, err := buildLayer(cfg)
	if err != nil {
		log.Fatalf("Failed to build channel layer: %v", err)
	}
	defer l.Close()

	r := router.NewChannelNameRouter()
	for _, name := range strings.Split(channelsFlag, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var app = worker.LogApplication()
		if echo {
			app = worker.EchoApplication(l)
		}
		if err := r.Route(name, app); err != nil {
			log.Fatalf("Bad channel %q: %v", name, err)
		}
	}

	w := worker.New(l, r, cfg.WorkerConcurrency)

	// run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting_worker_server",
		"backend", cfg.LayerBackend,
		"concurrency", cfg.WorkerConcurrency,
	)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("worker_stopped_gracefully")
}

// buildLayer picks the channel layer backend from config
func buildLayer(cfg *config.Config) (layer.Layer, error) {
	switch cfg.LayerBackend {
	case "redis":
		return redislayer.New(&redislayer.Options{
			Addr:        cfg.RedisAddr(),
			Password:    cfg.RedisPassword,
			Prefix:      cfg.RedisPrefix,
			Capacity:    cfg.ChannelCapacity,
			Expiry:      cfg.ChannelExpiry,
			GroupExpiry: cfg.GroupExpiry,
		})
	default:
		return layer.NewMemoryLayer(&layer.MemoryOptions{
			Capacity:    cfg.ChannelCapacity,
			Expiry:      cfg.ChannelExpiry,
			GroupExpiry: cfg.GroupExpiry,
		}), nil
	}
}
