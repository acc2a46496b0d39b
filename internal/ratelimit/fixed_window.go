package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter caps attempts per key.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// fixedWindowScript increments the window counter and returns it together with
// the key's remaining ttl in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// RedisFixedWindow limits requests per key in a fixed window shared by all
// instances through Redis.
type RedisFixedWindow struct {
	limit  int
	window time.Duration
	client *redis.Client
	prefix string
}

// NewRedisFixedWindow creates a Redis-backed distributed limiter.
func NewRedisFixedWindow(addr, password, prefix string, limit int, window time.Duration) (*RedisFixedWindow, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "library:ratelimit"
	}
	return &RedisFixedWindow{
		limit:  limit,
		window: window,
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
	}, nil
}

// Allow fails closed: Redis errors deny the request.
func (l *RedisFixedWindow) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{}
	}
	windowMs := l.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, normalizeKey(key), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil || len(res) != 2 {
		return Decision{RetryAfter: time.Second}
	}
	return decide(res[0], l.limit, time.Duration(res[1])*time.Millisecond)
}

// MemoryFixedWindow is the single-instance limiter used when Redis is not
// configured.
type MemoryFixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]memoryWindow
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

func NewMemoryFixedWindow(limit int, window time.Duration) (*MemoryFixedWindow, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &MemoryFixedWindow{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]memoryWindow),
	}, nil
}

func (l *MemoryFixedWindow) Allow(_ context.Context, key string) Decision {
	key = normalizeKey(key)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = memoryWindow{resetAt: now.Add(l.window)}
		if len(l.windows) > 10000 {
			l.evictExpiredLocked(now)
		}
	}
	w.count++
	l.windows[key] = w
	return decide(w.count, l.limit, w.resetAt.Sub(now))
}

func (l *MemoryFixedWindow) evictExpiredLocked(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}

func decide(count int64, limit int, ttl time.Duration) Decision {
	if count <= int64(limit) {
		return Decision{Allowed: true, Remaining: limit - int(count)}
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return Decision{RetryAfter: ttl}
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
