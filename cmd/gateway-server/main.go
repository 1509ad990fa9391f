package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chanhub/internal/config"
	"chanhub/internal/layer"
	"chanhub/internal/layer/redislayer"
	"chanhub/internal/microservices/gateway"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

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

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	logger.Info("starting_gateway_server",
		"addr", addr,
		"backend", cfg.LayerBackend,
	)

	server := gateway.NewServer(addr, l, cfg.JWTSecret)
	app := gateway.NewChatApplication(l)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(app); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		logger.Info("received_shutdown_signal")
		if err := server.Stop(); err != nil {
			logger.Error("shutdown_error", "error", err.Error())
		}
		logger.Info("server_stopped_gracefully")
	case err := <-errChan:
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
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
