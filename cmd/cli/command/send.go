package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"chanhub/internal/layer"
)

// send.go implements message injection: send to one channel, or broadcast
// to a group.

var sendCmd = &cobra.Command{
	Use:   "send <channel> <json-message>",
	Short: "Send a message to a single channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfigWithFlags()
		l, err := buildLayer(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		msg, err := parseMessage(args[1])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
		defer cancel()
		if err := l.Send(ctx, args[0], msg); err != nil {
			return err
		}
		fmt.Printf("sent %q to channel %s\n", msg.Type(), args[0])
		return nil
	},
}

var groupSendCmd = &cobra.Command{
	Use:   "group-send <group> <json-message>",
	Short: "Broadcast a message to every member of a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfigWithFlags()
		l, err := buildLayer(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		msg, err := parseMessage(args[1])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
		defer cancel()
		if err := l.GroupSend(ctx, args[0], msg); err != nil {
			return err
		}
		fmt.Printf("broadcast %q to group %s\n", msg.Type(), args[0])
		return nil
	},
}

// parseMessage decodes the CLI's JSON argument into a layer message
func parseMessage(raw string) (layer.Message, error) {
	var msg layer.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("message must be a JSON object: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(groupSendCmd)
}
