package command

// root.go defines the root command for the chanhub CLI.
// set up the global flags and the shared layer construction here.

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chanhub/internal/config"
	"chanhub/internal/layer"
	"chanhub/internal/layer/redislayer"
)

var (
	backend  string // global flag for layer backend (memory|redis)
	redisURL string // global flag for redis address
	prefix   string // global flag for redis key prefix
	capacity int    // global flag for channel capacity
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chanhub",
	Short: "chanhub - channel layer runtime CLI",
	Long: `chanhub drives a channel layer from the command line. Use it to:
- Run a worker consuming messages from named channels (runworker)
- Inject messages into a channel or broadcast to a group
- Flush a layer during development

The memory backend only makes sense inside one process; point --backend
redis at a shared Redis to talk to running gateways and workers.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "layer backend: memory or redis (default from env)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "redis URL (default from env)")
	rootCmd.PersistentFlags().StringVar(&prefix, "prefix", "", "redis key prefix (default from env)")
	rootCmd.PersistentFlags().IntVar(&capacity, "capacity", 0, "per-channel capacity (default from env)")
}

// loadConfigWithFlags loads env config and lets CLI flags override it
func loadConfigWithFlags() *config.Config {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if backend != "" {
		cfg.LayerBackend = backend
	}
	if redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if prefix != "" {
		cfg.RedisPrefix = prefix
	}
	if capacity > 0 {
		cfg.ChannelCapacity = capacity
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return cfg
}

// buildLayer picks the channel layer backend from the effective config
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

// opTimeout bounds one-shot CLI operations against a slow backend
const opTimeout = 10 * time.Second
