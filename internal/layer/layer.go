package layer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Layer is the channel layer abstraction: named channels carrying JSON-style
// messages at-most-once to a single reader, plus named broadcast groups.
// Both backends (memory, redis) implement this interface.

const (
	// MaxNameLength is the longest channel or group name accepted
	MaxNameLength = 100

	// DefaultCapacity is the max number of undelivered messages per channel
	DefaultCapacity = 100
)

var (
	ErrChannelFull        = errors.New("layer: channel is at capacity")
	ErrInvalidChannelName = errors.New("layer: invalid channel name")
	ErrInvalidGroupName   = errors.New("layer: invalid group name")
	ErrInvalidMessage     = errors.New("layer: message must carry a string 'type' key")
	ErrClosed             = errors.New("layer: layer is closed")
)

// Message is a single channel layer message.
// Every message must have a string value under the "type" key.
type Message map[string]any

// Type returns the message type discriminator, or "" when missing/not a string
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// Validate checks the message carries a usable type key
func (m Message) Validate() error {
	if m.Type() == "" {
		return ErrInvalidMessage
	}
	return nil
}

type Layer interface {
	// Send delivers msg to exactly one future receiver of channel.
	// Returns ErrChannelFull when the channel is at capacity.
	Send(ctx context.Context, channel string, msg Message) error

	// Receive blocks until a message is available on channel or ctx is done.
	// Expired messages are discarded, never returned.
	Receive(ctx context.Context, channel string) (Message, error)

	// NewChannel returns a fresh process-specific channel name built from prefix.
	NewChannel(ctx context.Context, prefix string) (string, error)

	// GroupAdd adds channel to group, refreshing its membership expiry.
	GroupAdd(ctx context.Context, group, channel string) error

	// GroupDiscard removes channel from group. Removing a non-member is a no-op.
	GroupDiscard(ctx context.Context, group, channel string) error

	// GroupSend broadcasts msg to every unexpired member of group.
	// Best effort: full or broken member channels are skipped.
	GroupSend(ctx context.Context, group string, msg Message) error

	// Flush empties all channels and group state.
	Flush(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// channel names may carry a single "!" splitting a shared prefix from a
// process-specific suffix; group names may not
var (
	channelNameRe = regexp.MustCompile(`^[a-zA-Z\d\-_.]+(![\d\w\-_.]*)?$`)
	groupNameRe   = regexp.MustCompile(`^[a-zA-Z\d\-_.]+$`)
)

// ValidChannelName reports whether name is usable as a channel name
func ValidChannelName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength || !channelNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidChannelName, name)
	}
	return nil
}

// ValidGroupName reports whether name is usable as a group name
func ValidGroupName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength || !groupNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidGroupName, name)
	}
	return nil
}

// IsProcessSpecific reports whether name is a process-specific channel (has a "!")
func IsProcessSpecific(name string) bool {
	return strings.Contains(name, "!")
}

// NewSpecificName builds a process-specific channel name from prefix.
// The caller-facing contract is: the result is valid, unique per call,
// and routes like any other channel.
func NewSpecificName(prefix string) (string, error) {
	if prefix == "" {
		prefix = "specific"
	}
	// prefix may already end in "!" when the caller reserves the shared part
	prefix = strings.TrimSuffix(prefix, "!")
	if err := ValidGroupName(prefix); err != nil {
		// the prefix half follows group name rules (no "!")
		return "", fmt.Errorf("%w: bad prefix %q", ErrInvalidChannelName, prefix)
	}
	name := prefix + "!" + uuid.NewString()
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: generated name too long", ErrInvalidChannelName)
	}
	return name, nil
}
