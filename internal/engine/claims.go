package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claims hands out short-lived exclusive leases on (stage, correlation ID)
// pairs so that only one worker, in any process, handles an item at a time.
type Claims struct {
	redisClient *redis.Client
	ttl         time.Duration
	owner       string
}

// releaseScript deletes the claim only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

func NewClaims(redisClient *redis.Client, ttl time.Duration) *Claims {
	return &Claims{
		redisClient: redisClient,
		ttl:         ttl,
		owner:       uuid.NewString(),
	}
}

func claimKey(stage, correlationID string) string {
	return fmt.Sprintf("claim:%s:%s", stage, correlationID)
}

// Acquire takes the claim. It returns false when another worker holds it.
func (c *Claims) Acquire(ctx context.Context, stage, correlationID string) (bool, error) {
	ok, err := c.redisClient.SetNX(ctx, claimKey(stage, correlationID), c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring claim %s/%s: %w", stage, correlationID, err)
	}
	return ok, nil
}

// Release gives the claim back. An expired or foreign claim is left alone.
func (c *Claims) Release(ctx context.Context, stage, correlationID string) error {
	err := releaseScript.Run(ctx, c.redisClient, []string{claimKey(stage, correlationID)}, c.owner).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("releasing claim %s/%s: %w", stage, correlationID, err)
	}
	return nil
}
