package purchase

import (
	"context"
	"sync"
	"time"

	"avalo-ledger/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter bounds purchase frequency per user. A denied purchase performs no
// mutation; this exists to blunt stolen-card testing and similar abuse, not
// to be an accounting control.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// RedisLimiter counts purchases per user in a fixed window shared across API
// instances.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	return utils.FixedWindowAllow(ctx, l.rdb, "purchase:freq:"+userID, l.limit, l.window)
}

// MemoryLimiter is a single-process limiter for tests and local development.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  func() time.Time

	counts map[string]int
	starts map[string]time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		clock:  time.Now,
		counts: make(map[string]int),
		starts: make(map[string]time.Time),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if start, ok := l.starts[userID]; !ok || now.Sub(start) >= l.window {
		l.starts[userID] = now
		l.counts[userID] = 0
	}
	if l.counts[userID] >= l.limit {
		return false, nil
	}
	l.counts[userID]++
	return true, nil
}
