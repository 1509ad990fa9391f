package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Empty all channels and group state on the configured layer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfigWithFlags()
		l, err := buildLayer(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
		defer cancel()
		if err := l.Flush(ctx); err != nil {
			return err
		}
		fmt.Println("layer flushed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
}
