package redislayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"chanhub/internal/layer"
)

// Redis-backed channel layer.
// Channels are Redis lists (LPUSH head / BRPOP tail = FIFO), groups are
// sorted sets scored by membership deadline. Any node talking to the same
// Redis sees the same channels, including process-specific "!" names.

const (
	DefaultPrefix = "chanhub"

	// brpopTimeout bounds each blocking pop so Receive can notice a dead
	// context even if the server connection outlives it
	brpopTimeout = 5 * time.Second
)

// Options tunes a RedisLayer. Zero values fall back to defaults.
type Options struct {
	Addr        string // host:port
	Password    string
	DB          int
	Prefix      string        // key namespace, default "chanhub"
	Capacity    int           // max undelivered messages per channel
	Expiry      time.Duration // message expiry
	GroupExpiry time.Duration // group membership expiry
}

type RedisLayer struct {
	client      *redis.Client
	prefix      string
	capacity    int
	expiry      time.Duration
	groupExpiry time.Duration
	logger      *slog.Logger
}

// envelope wraps a message on the wire with its delivery deadline
type envelope struct {
	Deadline int64         `json:"deadline"` // unix nanos; discard after this
	Body     layer.Message `json:"body"`
}

// constructor for RedisLayer; verifies the connection before returning
func New(opts *Options) (*RedisLayer, error) {
	if opts == nil || opts.Addr == "" {
		return nil, errors.New("redislayer: missing redis address")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  brpopTimeout + 2*time.Second, // must outlast BRPOP blocks
		WriteTimeout: 3 * time.Second,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = layer.DefaultCapacity
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = layer.DefaultExpiry
	}
	groupExpiry := opts.GroupExpiry
	if groupExpiry <= 0 {
		groupExpiry = layer.DefaultGroupExpiry
	}

	return &RedisLayer{
		client:      rdb,
		prefix:      prefix,
		capacity:    capacity,
		expiry:      expiry,
		groupExpiry: groupExpiry,
		logger:      slog.Default(),
	}, nil
}

// ChannelKey returns the Redis list key backing a channel
func (l *RedisLayer) ChannelKey(channel string) string {
	return fmt.Sprintf("%s:channel:%s", l.prefix, channel)
}

// GroupKey returns the Redis sorted set key backing a group
func (l *RedisLayer) GroupKey(group string) string {
	return fmt.Sprintf("%s:group:%s", l.prefix, group)
}

// sendScript pushes only when the list is under capacity.
// KEYS[1] = channel key, ARGV[1] = payload, ARGV[2] = capacity,
// ARGV[3] = key ttl in milliseconds. Returns 1 on push, 0 on full.
var sendScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
    return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func (l *RedisLayer) Send(ctx context.Context, channel string, msg layer.Message) error {
	if err := layer.ValidChannelName(channel); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{
		Deadline: time.Now().Add(l.expiry).UnixNano(),
		Body:     msg,
	})
	if err != nil {
		return fmt.Errorf("redislayer: marshal message: %w", err)
	}
	// abandoned channel keys expire on their own; keep them a little past
	// message expiry so a slow reader still sees the tail
	ttl := l.expiry + 10*time.Second
	res, err := sendScript.Run(ctx, l.client,
		[]string{l.ChannelKey(channel)},
		payload, l.capacity, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redislayer: send: %w", err)
	}
	if res == 0 {
		return layer.ErrChannelFull
	}
	return nil
}

func (l *RedisLayer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	if err := layer.ValidChannelName(channel); err != nil {
		return nil, err
	}
	key := l.ChannelKey(channel)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals, err := l.client.BRPop(ctx, brpopTimeout, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// nothing arrived inside the timeout window, keep waiting
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redislayer: receive: %w", err)
		}
		// BRPOP returns [key, value]
		if len(vals) != 2 {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(vals[1]), &env); err != nil {
			l.logger.Warn("discarding_unparseable_message",
				"channel", channel,
				"error", err.Error(),
			)
			continue
		}
		if time.Now().UnixNano() > env.Deadline {
			l.logger.Debug("message_expired",
				"channel", channel,
				"type", env.Body.Type(),
			)
			continue
		}
		return env.Body, nil
	}
}

func (l *RedisLayer) NewChannel(ctx context.Context, prefix string) (string, error) {
	return layer.NewSpecificName(prefix)
}

func (l *RedisLayer) GroupAdd(ctx context.Context, group, channel string) error {
	if err := layer.ValidGroupName(group); err != nil {
		return err
	}
	if err := layer.ValidChannelName(channel); err != nil {
		return err
	}
	key := l.GroupKey(group)
	deadline := float64(time.Now().Add(l.groupExpiry).UnixNano())
	pipe := l.client.TxPipeline()
	// score = membership deadline; re-adding refreshes it
	pipe.ZAdd(ctx, key, redis.Z{Score: deadline, Member: channel})
	pipe.Expire(ctx, key, l.groupExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redislayer: group add: %w", err)
	}
	return nil
}

func (l *RedisLayer) GroupDiscard(ctx context.Context, group, channel string) error {
	if err := layer.ValidGroupName(group); err != nil {
		return err
	}
	if err := layer.ValidChannelName(channel); err != nil {
		return err
	}
	if err := l.client.ZRem(ctx, l.GroupKey(group), channel).Err(); err != nil {
		return fmt.Errorf("redislayer: group discard: %w", err)
	}
	return nil
}

func (l *RedisLayer) GroupSend(ctx context.Context, group string, msg layer.Message) error {
	if err := layer.ValidGroupName(group); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	key := l.GroupKey(group)
	now := time.Now().UnixNano()

	// prune memberships whose deadline already passed
	if err := l.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now)).Err(); err != nil {
		return fmt.Errorf("redislayer: group prune: %w", err)
	}
	members, err := l.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redislayer: group members: %w", err)
	}

	// best effort fan-out: a full member never fails the broadcast
	for _, channel := range members {
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

// Flush deletes every key under the layer prefix, leaving other tenants of
// the same Redis alone
func (l *RedisLayer) Flush(ctx context.Context) error {
	pattern := l.prefix + ":*"
	var cursor uint64
	for {
		// SCAN returns keys in batches without blocking the server
		keys, nextCursor, err := l.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redislayer: flush scan: %w", err)
		}
		if len(keys) > 0 {
			if err := l.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redislayer: flush del: %w", err)
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (l *RedisLayer) Close() error {
	return l.client.Close()
}
