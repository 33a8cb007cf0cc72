package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderbilling/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyOrderCreate = "billing:ratelimit:order_create:%s"

// OrderCreateLimiter caps how fast a single user can open orders.
// It uses the redis bucket when one is available and a per-process
// limiter otherwise.
type OrderCreateLimiter struct {
	bucket *TokenBucket
	local  *localLimiter
	rate   float64
	burst  int
	log    *zap.Logger
}

// NewOrderCreateLimiter returns nil when rate limiting is disabled.
func NewOrderCreateLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *OrderCreateLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || limitCfg.OrderCreateRate <= 0 || limitCfg.OrderCreateBurst <= 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	l := &OrderCreateLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.OrderCreateRate,
		burst:  limitCfg.OrderCreateBurst,
		log:    log.Named("ratelimit.order_create"),
	}
	if l.bucket == nil {
		l.local = newLocalLimiter(rate.Limit(l.rate), l.burst)
	}
	return l
}

// Allow consumes one token for userKey. Redis errors fail open.
func (l *OrderCreateLimiter) Allow(ctx context.Context, userKey string) Result {
	if l == nil {
		return Result{Allowed: true}
	}
	if l.bucket == nil {
		return l.local.allow(userKey)
	}

	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyOrderCreate, userKey), l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limit check failed", zap.String("key", userKey), zap.Error(err))
		return Result{Allowed: true, Limit: l.burst}
	}
	return res
}

type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newLocalLimiter(r rate.Limit, burst int) *localLimiter {
	return &localLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (l *localLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[key] = limiter
	return limiter
}

func (l *localLimiter) allow(key string) Result {
	limiter := l.get(key)
	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Result{Allowed: false, Limit: l.burst}
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return Result{Allowed: false, Limit: l.burst, RetryAfter: delay}
	}
	return Result{
		Allowed:   true,
		Limit:     l.burst,
		Remaining: int(limiter.TokensAt(now)),
	}
}
