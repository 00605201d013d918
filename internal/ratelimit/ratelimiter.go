package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config sizes one limiter: at most Max requests per key per Window. Each
// protected route owns its own limiter instance; limiters never share
// counters across routes.
type Config struct {
	Window time.Duration
	Max    int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces per-key request limits.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{Allowed: true, Remaining: 1}, nil
}

//
// In-memory limiter
//

type bucket struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is a fixed-window per-key counter. Counter increments are
// serialized by the mutex, so concurrent requests for the same key cannot
// push the effective count past Max.
type MemoryLimiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Allow checks if a request should be allowed for the given key.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.cfg.Max <= 0 {
		return Decision{Allowed: true, Remaining: 1}, nil
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.cfg.Window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
		l.pruneLocked(now)
	}

	resetIn := l.cfg.Window - now.Sub(b.windowStart)

	if b.count >= l.cfg.Max {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: resetIn}, nil
	}

	b.count++
	return Decision{Allowed: true, Remaining: l.cfg.Max - b.count, RetryAfter: 0}, nil
}

// pruneLocked drops buckets whose window has passed. Called opportunistically
// on bucket rotation so idle keys do not accumulate.
func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.cfg.Window {
			delete(l.buckets, key)
		}
	}
}

//
// Redis limiter
//

// RedisLimiter implements distributed rate limiting using a Redis sorted
// set per key (sliding window).
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	prefix string
}

// NewRedisLimiter creates a redis-backed limiter. The prefix namespaces
// this route's counters away from other limiters sharing the client.
func NewRedisLimiter(client *redis.Client, prefix string, cfg Config) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg, prefix: prefix}
}

// Allow checks if a request should be allowed for the given key.
// Uses a sliding window over a Redis sorted set: prune, count, add in one
// pipeline so concurrent callers stay within a bounded margin of Max.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if rl.cfg.Max <= 0 {
		return Decision{Allowed: true, Remaining: 1}, nil
	}

	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	now := time.Now()
	windowStart := now.Add(-rl.cfg.Window)

	pipe := rl.client.Pipeline()

	// Remove entries outside the window.
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))

	// Count requests currently in the window.
	countCmd := pipe.ZCard(ctx, redisKey)

	// Record this request with its timestamp as score.
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d:%d", now.UnixNano(), now.UnixMilli()),
	})

	// Expire idle keys.
	pipe.Expire(ctx, redisKey, 2*rl.cfg.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	currentCount := int(countCmd.Val())
	if currentCount >= rl.cfg.Max {
		// The oldest surviving entry leaves the window after a full Window
		// has passed; report that as the retry hint.
		return Decision{Allowed: false, Remaining: 0, RetryAfter: rl.cfg.Window}, nil
	}

	return Decision{Allowed: true, Remaining: rl.cfg.Max - currentCount - 1}, nil
}

// Reset clears the counter for a key.
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}
