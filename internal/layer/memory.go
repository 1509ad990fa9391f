package layer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// In-memory channel layer backend.
// Single process only: every sender and receiver must share the same instance.
// Used by tests, the CLI and single-node deployments.

const (
	DefaultExpiry      = 60 * time.Second // undelivered messages older than this are dropped
	DefaultGroupExpiry = 24 * time.Hour   // group memberships go stale after this
)

// MemoryOptions tunes a MemoryLayer. Zero values fall back to defaults.
type MemoryOptions struct {
	Capacity    int           // max undelivered messages per channel
	Expiry      time.Duration // message expiry
	GroupExpiry time.Duration // group membership expiry
}

type queuedMessage struct {
	msg      Message
	deadline time.Time // receive after this and the message is discarded
}

type MemoryLayer struct {
	capacity    int
	expiry      time.Duration
	groupExpiry time.Duration

	mu       sync.Mutex
	channels map[string]chan queuedMessage // per-channel FIFO buffer
	groups   map[string]map[string]time.Time
	// map[group] -> map[channel] -> membership deadline
	reset  chan struct{} // closed on Flush/Close so parked receivers re-resolve
	closed bool
	logger *slog.Logger
}

// constructor for MemoryLayer
func NewMemoryLayer(opts *MemoryOptions) *MemoryLayer {
	if opts == nil {
		opts = &MemoryOptions{}
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	groupExpiry := opts.GroupExpiry
	if groupExpiry <= 0 {
		groupExpiry = DefaultGroupExpiry
	}
	return &MemoryLayer{
		capacity:    capacity,
		expiry:      expiry,
		groupExpiry: groupExpiry,
		channels:    make(map[string]chan queuedMessage),
		groups:      make(map[string]map[string]time.Time),
		reset:       make(chan struct{}),
		logger:      slog.Default(),
	}
}

// channelQueue returns the buffer for name, creating it on first use, plus
// the reset signal valid for that buffer's lifetime
func (l *MemoryLayer) channelQueue(name string) (chan queuedMessage, chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, nil, ErrClosed
	}
	q, ok := l.channels[name]
	if !ok {
		q = make(chan queuedMessage, l.capacity)
		l.channels[name] = q
	}
	return q, l.reset, nil
}

func (l *MemoryLayer) Send(ctx context.Context, channel string, msg Message) error {
	if err := ValidChannelName(channel); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	q, _, err := l.channelQueue(channel)
	if err != nil {
		return err
	}
	item := queuedMessage{msg: msg, deadline: time.Now().Add(l.expiry)}
	select {
	case q <- item:
		return nil
	default:
		// buffer full = channel at capacity, fail fast instead of blocking
		return ErrChannelFull
	}
}

func (l *MemoryLayer) Receive(ctx context.Context, channel string) (Message, error) {
	if err := ValidChannelName(channel); err != nil {
		return nil, err
	}
	for {
		q, reset, err := l.channelQueue(channel)
		if err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-reset:
			// the layer was flushed or closed under us; pick up the
			// replacement buffer instead of parking on the old one
			continue
		case item := <-q:
			if time.Now().After(item.deadline) {
				// expired in the buffer; drop it and keep waiting
				l.logger.Debug("message_expired",
					"channel", channel,
					"type", item.msg.Type(),
				)
				continue
			}
			return item.msg, nil
		}
	}
}

func (l *MemoryLayer) NewChannel(ctx context.Context, prefix string) (string, error) {
	return NewSpecificName(prefix)
}

func (l *MemoryLayer) GroupAdd(ctx context.Context, group, channel string) error {
	if err := ValidGroupName(group); err != nil {
		return err
	}
	if err := ValidChannelName(channel); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	members, ok := l.groups[group]
	if !ok {
		members = make(map[string]time.Time)
		l.groups[group] = members
	}
	// re-adding refreshes the membership deadline
	members[channel] = time.Now().Add(l.groupExpiry)
	return nil
}

func (l *MemoryLayer) GroupDiscard(ctx context.Context, group, channel string) error {
	if err := ValidGroupName(group); err != nil {
		return err
	}
	if err := ValidChannelName(channel); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if members, ok := l.groups[group]; ok {
		delete(members, channel)
		if len(members) == 0 {
			delete(l.groups, group)
		}
	}
	return nil
}

func (l *MemoryLayer) GroupSend(ctx context.Context, group string, msg Message) error {
	if err := ValidGroupName(group); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	// snapshot live members under the lock, pruning expired ones as we go
	now := time.Now()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	members := l.groups[group]
	live := make([]string, 0, len(members))
	for channel, deadline := range members {
		if now.After(deadline) {
			delete(members, channel)
			continue
		}
		live = append(live, channel)
	}
	if len(members) == 0 {
		delete(l.groups, group)
	}
	l.mu.Unlock()

	// best effort fan-out: a full member never fails the broadcast
	for _, channel := range live {
		if err := l.Send(ctx, channel, msg); err != nil {
			l.logger.Warn("group_send_skipped_member",
				"group", group,
				"channel", channel,
				"error", err.Error(),
			)
		}
	}
	return nil
}

func (l *MemoryLayer) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	// reset both maps and wake parked receivers so nobody stays on an
	// orphaned buffer
	l.channels = make(map[string]chan queuedMessage)
	l.groups = make(map[string]map[string]time.Time)
	close(l.reset)
	l.reset = make(chan struct{})
	return nil
}

func (l *MemoryLayer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.channels = make(map[string]chan queuedMessage)
	l.groups = make(map[string]map[string]time.Time)
	close(l.reset)
	return nil
}
