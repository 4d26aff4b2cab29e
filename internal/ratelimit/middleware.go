package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/askwhyharsh/familycircle/pkg/logger"
)

type Middleware struct {
	limiter RateLimiter
	logger  logger.Logger
}

func NewMiddleware(limiter RateLimiter, log logger.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		logger:  log,
	}
}

// IPRateLimit middleware for general IP-based rate limiting. A limiter
// failure lets the request through; the limit protects capacity, not data.
func (m *Middleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		allowed, err := m.limiter.AllowIPRequest(c.Request.Context(), ip)
		if err != nil {
			m.logger.Warn("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"message": "Rate limit exceeded. Please try again later.",
					"code":    "RATE_LIMIT_IP",
				},
			})
			return
		}

		c.Next()
	}
}
