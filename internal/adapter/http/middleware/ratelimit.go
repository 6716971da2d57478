package middleware

import (
	"context"
	"strconv"
	"time"

	redisStore "marketplace-escrow/internal/adapter/storage/redis"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule allows Limit requests per caller per Window.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the limits per endpoint group. Money moving
// endpoints are the tightest.
func DefaultRateLimitRules() map[string]RateLimitRule {
	perMinute := func(n int64) RateLimitRule { return RateLimitRule{Limit: n, Window: time.Minute} }
	return map[string]RateLimitRule{
		"reads":          perMinute(120),
		"deals_create":   perMinute(20),
		"deals_action":   perMinute(30),
		"balance_topup":  perMinute(10),
		"balance_manual": perMinute(60),
		"webhook":        perMinute(600),
	}
}

// HitCounter is the counter backend behind RateLimiter.
type HitCounter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redisStore.RateLimitResult, error)
}

// RateLimiter enforces rule for one endpoint group. When the counter
// backend fails the request is let through and only a warning is logged.
func RateLimiter(counter HitCounter, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := counter.Allow(c.Request.Context(), group+":"+callerKey(c), rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit unavailable, request allowed")
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))
		if res.Allowed {
			c.Next()
			return
		}

		h.Set("Retry-After", strconv.FormatInt(max(res.ResetAt-time.Now().Unix(), 1), 10))
		response.Error(c, apperror.ErrRateLimitExceeded())
		c.Abort()
	}
}

// callerKey identifies authenticated callers by user id and everyone else,
// such as the payment processor, by client IP.
func callerKey(c *gin.Context) string {
	if caller, ok := CallerFrom(c); ok {
		return "user:" + caller.UserID.String()
	}
	return "ip:" + c.ClientIP()
}
