package command

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chanhub/internal/router"
	"chanhub/internal/worker"
)

// runworker.go hosts the worker runtime: consume the named channels and
// dispatch every message to the selected application until interrupted.

var workerEcho bool

var runworkerCmd = &cobra.Command{
	Use:   "runworker <channel> [channel...]",
	Short: "Consume messages from the named channels and dispatch them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// worker output is structured; switch the process to JSON logs
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		cfg := loadConfigWithFlags()
		l, err := buildLayer(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		r := router.NewChannelNameRouter()
		for _, name := range args {
			var app = worker.LogApplication()
			if workerEcho {
				app = worker.EchoApplication(l)
			}
			if err := r.Route(name, app); err != nil {
				return err
			}
		}

		w := worker.New(l, r, cfg.WorkerConcurrency)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	runworkerCmd.Flags().BoolVar(&workerEcho, "echo", false, "run the echo application instead of the log sink")
	rootCmd.AddCommand(runworkerCmd)
}
