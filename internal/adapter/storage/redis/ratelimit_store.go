package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const rateLimitNamespace = "escrow:ratelimit:"

// fixedWindow counts a hit and starts the window on the first one. It
// returns the count and the milliseconds left in the window.
var fixedWindow = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RateLimitStore keeps per-caller request counters in Redis.
type RateLimitStore struct {
	client *goredis.Client
	now    func() time.Time
}

func NewRateLimitStore(client *goredis.Client) *RateLimitStore {
	return &RateLimitStore{client: client, now: time.Now}
}

// RateLimitResult is the state of one caller's window after a hit.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // unix seconds
}

// Allow records a hit for key and reports whether it fits in limit. The
// window starts at the caller's first hit and the counter and its expiry
// are updated atomically by one script call.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	window = max(window, time.Second)
	vals, err := fixedWindow.Run(ctx, s.client, []string{rateLimitNamespace + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("redis rate limit: unexpected reply %v", vals)
	}
	count, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	if ttl < 0 {
		ttl = window
	}

	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   s.now().Add(ttl).Unix(),
	}, nil
}
