package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RateLimiter is a fixed-window counter kept in Redis so every server
// instance shares the same budget.
type RateLimiter struct {
	rdb     *redis.Client
	scope   string
	limit   int
	window  time.Duration
	subject func(c *gin.Context) string
}

// NewRateLimiter allows limit requests per window for each subject.
func NewRateLimiter(rdb *redis.Client, scope string, limit int, window time.Duration, subject func(c *gin.Context) string) *RateLimiter {
	return &RateLimiter{rdb: rdb, scope: scope, limit: limit, window: window, subject: subject}
}

// ByClientIP keys the limiter on the caller's address.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByUser keys the limiter on the authenticated user. Must run after a JWT middleware.
func ByUser(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return strconv.Itoa(claims.UserID)
	}
	return c.ClientIP()
}

// Middleware returns a Gin middleware enforcing the limit. Redis failures
// let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		window := time.Now().UnixNano() / int64(rl.window)
		key := config.CacheKey.RateKey(rl.scope, rl.subject(c), window)

		ctx := c.Request.Context()
		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Str("scope", rl.scope).Msg("Rate limiter unavailable")
			c.Next()
			return
		}

		count := incr.Val()
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rl.limit)-count, 0), 10))
		if count > int64(rl.limit) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
