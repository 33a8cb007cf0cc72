package ratelimit

import (
	"errors"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbilling/internal/observability/metrics"
)

var ErrRateLimited = errors.New("rate_limited")

// KeyFunc picks the bucket for a request. An empty key skips the limit.
type KeyFunc func(c *gin.Context) string

// Middleware rejects requests over the limit with ErrRateLimited. A nil
// limiter lets every request through.
func Middleware(limiter *OrderCreateLimiter, endpoint string, key KeyFunc, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		k := key(c)
		if k == "" {
			c.Next()
			return
		}

		res := limiter.Allow(c.Request.Context(), k)
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if res.Allowed {
			c.Next()
			return
		}

		if res.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		}
		m.RecordRateLimitDenied(c.Request.Context(), endpoint)
		_ = c.Error(ErrRateLimited)
		c.Abort()
	}
}
