package ratelimit

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"halia/pkg/errors"
	"halia/pkg/metrics"
)

// Middleware limits requests per client IP. Paths in skip are never
// limited so probes keep working under load.
func Middleware(store *Store, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	limit := strconv.Itoa(int(store.cfg.RPS))

	return func(c *gin.Context) {
		if _, ok := skipped[c.FullPath()]; ok {
			c.Next()
			return
		}

		key := c.ClientIP()
		if key == "" {
			key = c.RemoteIP()
		}

		allowed, remaining := store.Allow(key)
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("Retry-After", "1")
			err := errors.ErrRateLimited.WithDetail("client", key)
			c.AbortWithStatusJSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}
