package redishost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NEARWEEK/MCP/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed StreamHost. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=near-mcp:sessions:"`
	// MaxLen approximately bounds each session stream. ENV: SESSIONS_STREAM_MAXLEN
	MaxLen int64 `env:"SESSIONS_STREAM_MAXLEN,default=1024"`
	// StreamTTL expires idle streams. ENV: SESSIONS_STREAM_TTL
	StreamTTL time.Duration `env:"SESSIONS_STREAM_TTL,default=1h"`
}

const (
	fieldData      = "d"
	fieldOpen      = "o"
	fieldTombstone = "x"
	pollBlock      = 500 * time.Millisecond
)

// publishScript appends only to a stream that was opened and not yet
// tombstoned. A nil reply means the session is unknown.
var publishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
local last = redis.call('XREVRANGE', KEYS[1], '+', '-', 'COUNT', 1)
if #last > 0 then
  local f = last[1][2]
  for i = 1, #f, 2 do
    if f[i] == ARGV[4] then return false end
  end
end
local id = redis.call('XADD', KEYS[1], 'MAXLEN', '~', ARGV[2], '*', ARGV[3], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return id
`)

type Host struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
	ttl       time.Duration
}

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "near-mcp:sessions:"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 1024
	}
	ttl := cfg.StreamTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Host{client: cl, keyPrefix: prefix, maxLen: maxLen, ttl: ttl}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

// Ping reports whether Redis is reachable.
func (h *Host) Ping(ctx context.Context) error { return h.client.Ping(ctx).Err() }

func (h *Host) streamKey(sessionID string) string { return h.keyPrefix + "stream:" + sessionID }

// Open writes a marker entry so the stream exists before the first publish.
func (h *Host) Open(ctx context.Context, sessionID string) error {
	key := h.streamKey(sessionID)
	pipe := h.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: map[string]any{fieldOpen: "1"}})
	pipe.Expire(ctx, key, h.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (h *Host) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	id, err := publishScript.Run(ctx, h.client, []string{h.streamKey(sessionID)},
		data, h.maxLen, fieldData, fieldTombstone, int64(h.ttl/time.Second)).Text()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", sessions.ErrUnknownSession, sessionID)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (h *Host) Subscribe(ctx context.Context, sessionID, lastEventID string, handler sessions.MessageHandlerFunc) error {
	key := h.streamKey(sessionID)
	last, err := h.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return err
	}
	if len(last) == 0 {
		return fmt.Errorf("%w: %s", sessions.ErrUnknownSession, sessionID)
	}
	if _, done := last[0].Values[fieldTombstone]; done {
		return fmt.Errorf("%w: %s", sessions.ErrUnknownSession, sessionID)
	}

	var start string
	if lastEventID == "" {
		// Pin "$" to a concrete ID so messages published between polls are not skipped.
		start = last[0].ID
	} else {
		msgs, err := h.client.XRange(ctx, key, lastEventID, lastEventID).Result()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", sessions.ErrUnknownEventID, lastEventID, err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("%w: %s", sessions.ErrUnknownEventID, lastEventID)
		}
		start = lastEventID
	}

	refreshed := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A quiet session with an open stream must not expire.
		if time.Since(refreshed) > h.ttl/2 {
			h.client.Expire(ctx, key, h.ttl)
			refreshed = time.Now()
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{Streams: []string{key, start}, Count: 16, Block: pollBlock}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			start = m.ID
			if _, done := m.Values[fieldTombstone]; done {
				return nil
			}
			var payload []byte
			switch v := m.Values[fieldData].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				continue
			}
			if err := handler(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}

// Cleanup appends a tombstone so blocked readers on any replica return, then
// lets the stream expire shortly after.
func (h *Host) Cleanup(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	key := h.streamKey(sessionID)
	pipe := h.client.TxPipeline()
	pipe.XAdd(c, &redis.XAddArgs{Stream: key, Values: map[string]any{fieldTombstone: "1"}})
	pipe.Expire(c, key, 2*pollBlock+time.Second)
	_, err := pipe.Exec(c)
	return err
}

var _ sessions.StreamHost = (*Host)(nil)
