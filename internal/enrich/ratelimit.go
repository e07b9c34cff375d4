package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter enforces a per-provider requests-per-minute budget before an
// external reputation call is made. Both paths count against a fixed
// one-minute window: with a Redis client the counter is shared across
// pipeline instances, without one a local in-process counter is used.
// The limiter fails open: an unreachable Redis never blocks
// enrichment, it only loses cross-instance accounting.
type Limiter struct {
	redis  *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]*localWindow
}

type localWindow struct {
	windowStart time.Time
	count       int
}

// NewLimiter creates a limiter. redisClient may be nil.
func NewLimiter(redisClient *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		logger: logger,
		counts: make(map[string]*localWindow),
	}
}

var limiterScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// Allow reports whether provider may make another request this minute
// under the given per-minute limit. limit <= 0 disables limiting.
func (l *Limiter) Allow(ctx context.Context, provider string, limit int) bool {
	if limit <= 0 {
		return true
	}
	if l.redis != nil {
		key := "iocpipe:ratelimit:" + provider + ":minute"
		current, err := limiterScript.Run(ctx, l.redis, []string{key}, 60000).Int()
		if err != nil {
			l.logger.Warn("rate limit check failed, allowing request",
				zap.String("provider", provider), zap.Error(err))
			return true
		}
		return current <= limit
	}
	return l.allowLocal(provider, limit)
}

func (l *Limiter) allowLocal(provider string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w := l.counts[provider]
	if w == nil || now.Sub(w.windowStart) >= time.Minute {
		l.counts[provider] = &localWindow{windowStart: now, count: 1}
		return true
	}
	w.count++
	return w.count <= limit
}
