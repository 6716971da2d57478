package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-escrow/internal/adapter/http/middleware"
	redisStore "marketplace-escrow/internal/adapter/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func setupRateLimitRouter(store *redisStore.RateLimitStore, userID *uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	rule := middleware.RateLimitRule{Limit: 3, Window: time.Minute}
	setCaller := func(c *gin.Context) {
		if userID != nil {
			c.Set(middleware.CtxUserID, *userID)
		}
		c.Next()
	}

	r.GET("/test", setCaller, middleware.RateLimiter(store, "test", rule, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return r
}

func newRateLimitStore(t *testing.T) (*redisStore.RateLimitStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisStore.NewRateLimitStore(client), mr
}

func hit(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/test", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	store, _ := newRateLimitStore(t)
	router := setupRateLimitRouter(store, nil)

	for i := 0; i < 3; i++ {
		w := hit(router)
		assert.Equal(t, 200, w.Code, "request %d should succeed", i+1)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	store, _ := newRateLimitStore(t)
	router := setupRateLimitRouter(store, nil)

	for i := 0; i < 3; i++ {
		hit(router)
	}
	w := hit(router)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_001")
}

func TestRateLimiter_KeysByUser(t *testing.T) {
	store, _ := newRateLimitStore(t)
	alice, bob := uuid.New(), uuid.New()
	aliceRouter := setupRateLimitRouter(store, &alice)
	bobRouter := setupRateLimitRouter(store, &bob)

	for i := 0; i < 3; i++ {
		hit(aliceRouter)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(aliceRouter).Code)
	assert.Equal(t, http.StatusOK, hit(bobRouter).Code)
}

func TestRateLimiter_DegradesWhenRedisDown(t *testing.T) {
	store, mr := newRateLimitStore(t)
	router := setupRateLimitRouter(store, nil)
	mr.Close()

	w := hit(router)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestDefaultRateLimitRules(t *testing.T) {
	rules := middleware.DefaultRateLimitRules()
	for _, group := range []string{"reads", "deals_create", "deals_action", "balance_topup", "balance_manual", "webhook"} {
		rule, ok := rules[group]
		assert.True(t, ok, "missing rule %s", group)
		assert.Positive(t, rule.Limit)
		assert.Equal(t, time.Minute, rule.Window)
	}
}
