package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrBackendUnavailable indicates the limiter backend could not be reached.
var ErrBackendUnavailable = errors.New("rate limit backend unavailable")

// Limiter budgets attempts per key over a window.
type Limiter interface {
	// Allow consumes one attempt and reports whether it was within budget.
	Allow(ctx context.Context, key string) (bool, error)
	// Peek reports whether another attempt would be allowed, without
	// consuming one.
	Peek(ctx context.Context, key string) (bool, error)
	// Reset forgets the key.
	Reset(ctx context.Context, key string) error
}

type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = 5
	}
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	return c
}

// PerSecond expresses a requests-per-second budget with a burst allowance.
func PerSecond(rps float64, burst int) Config {
	if rps <= 0 || burst <= 0 {
		return Config{}
	}
	return Config{Limit: burst, Window: time.Duration(float64(burst) / rps * float64(time.Second))}
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket that refills Limit tokens over
// Window. It is local to the process.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	limit   rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	cfg = cfg.withDefaults()
	return &MemoryLimiter{
		entries: make(map[string]*memoryEntry),
		limit:   rate.Every(cfg.Window / time.Duration(cfg.Limit)),
		burst:   cfg.Limit,
		window:  cfg.Window,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) get(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &memoryEntry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = m.now()
	return e.limiter
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return m.get(key).AllowN(m.now(), 1), nil
}

func (m *MemoryLimiter) Peek(_ context.Context, key string) (bool, error) {
	return m.get(key).TokensAt(m.now()) >= 1, nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Cleanup drops keys idle for longer than the window; their buckets are full
// again by then.
func (m *MemoryLimiter) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	for key, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}

// StartCleanupWorker runs Cleanup every interval until ctx is done.
func (m *MemoryLimiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup()
			}
		}
	}()
}

// RedisLimiter is a fixed-window counter shared by every process that talks
// to the same Redis.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, cfg Config) *RedisLimiter {
	cfg = cfg.withDefaults()
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{
		redis:  client,
		prefix: prefix,
		limit:  int64(cfg.Limit),
		window: cfg.Window,
	}
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + ":" + k
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.redis.Incr(ctx, l.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if count == 1 {
		// first hit opens the window
		if err := l.redis.Expire(ctx, l.key(key), l.window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return count <= l.limit, nil
}

func (l *RedisLimiter) Peek(ctx context.Context, key string) (bool, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return count < l.limit, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
