package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a sliding-window limiter on calls to a collaborator,
// shared by every replica through a Redis sorted set.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	window      time.Duration
}

// slidingWindowScript drops entries older than the window, then admits the
// call and records it only while the window holds fewer than limit entries.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		window:      window,
	}
}

func rlKey(collaborator string) string {
	return fmt.Sprintf("rl:%s", collaborator)
}

// Allow reports whether one more call to the collaborator fits in the
// current window. A limit of zero disables limiting. Redis errors fail open.
func (rl *RateLimiter) Allow(ctx context.Context, collaborator string, limit int) bool {
	if limit <= 0 {
		return true
	}

	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(collaborator)},
		time.Now().UnixMilli(), rl.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "collaborator", collaborator, "error", err)
		return true
	}

	return result == 1
}

// Wait blocks until Allow admits the call or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, collaborator string, limit int) error {
	pause := rl.window / 20
	if pause < 10*time.Millisecond {
		pause = 10 * time.Millisecond
	}
	for {
		if rl.Allow(ctx, collaborator, limit) {
			return nil
		}
		rl.logger.Debug("rate limited", "collaborator", collaborator, "limit", limit)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}
