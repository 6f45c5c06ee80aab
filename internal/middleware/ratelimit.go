package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	redisc "github.com/mx-space/shortener/internal/pkg/redis"
	"github.com/mx-space/shortener/internal/pkg/response"
)

// RateLimit enforces a fixed-window per-IP budget on the public surface
// using the Redis counted primitive. Redis errors fail open: throttling is
// protective, not load-bearing.
func RateLimit(rc *redisc.Client, window time.Duration, limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		windowStart := time.Now().Unix() / int64(window.Seconds())
		key := fmt.Sprintf("shortener:rate_limit:%s:%d", ip, windowStart)

		count, err := rc.CountInWindow(c.Request.Context(), key, window)
		if err != nil {
			c.Next()
			return
		}
		if count > limit {
			response.TooManyRequests(c, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
