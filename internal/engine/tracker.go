package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker keeps per-item attempt counts, backoff deadlines and the set of
// held items in Redis.
type Tracker struct {
	redisClient *redis.Client
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	now         func() time.Time
}

func NewTracker(redisClient *redis.Client, logger *slog.Logger, maxAttempts int, baseDelay time.Duration) *Tracker {
	return &Tracker{
		redisClient: redisClient,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    10 * time.Minute,
		now:         time.Now,
	}
}

func attemptsKey(stage, correlationID string) string {
	return fmt.Sprintf("attempts:%s:%s", stage, correlationID)
}

func heldKey(stage string) string {
	return fmt.Sprintf("held:%s", stage)
}

// Ready reports whether the item may be dispatched now: it is not held and
// its backoff deadline has passed.
func (t *Tracker) Ready(ctx context.Context, stage, correlationID string) (bool, error) {
	held, err := t.redisClient.SIsMember(ctx, heldKey(stage), correlationID).Result()
	if err != nil {
		return false, fmt.Errorf("checking hold: %w", err)
	}
	if held {
		return false, nil
	}

	nextAt, err := t.redisClient.HGet(ctx, attemptsKey(stage, correlationID), "next_at").Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking backoff: %w", err)
	}
	ms, _ := strconv.ParseInt(nextAt, 10, 64)
	return t.now().UnixMilli() >= ms, nil
}

// Attempts returns how many failed attempts are recorded for the item.
func (t *Tracker) Attempts(ctx context.Context, stage, correlationID string) (int, error) {
	n, err := t.redisClient.HGet(ctx, attemptsKey(stage, correlationID), "count").Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// RecordFailure counts a failed attempt and schedules the next one with
// exponential backoff. exhausted is true once the attempt limit is reached.
func (t *Tracker) RecordFailure(ctx context.Context, stage, correlationID string) (attempts int, exhausted bool, err error) {
	key := attemptsKey(stage, correlationID)

	n, err := t.redisClient.HIncrBy(ctx, key, "count", 1).Result()
	if err != nil {
		return 0, false, fmt.Errorf("counting attempt: %w", err)
	}

	delay := t.Backoff(int(n))
	pipe := t.redisClient.TxPipeline()
	pipe.HSet(ctx, key, "next_at", t.now().Add(delay).UnixMilli())
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return int(n), false, fmt.Errorf("scheduling retry: %w", err)
	}

	t.logger.Debug("attempt failed",
		"stage", stage,
		"correlation_id", correlationID,
		"attempts", n,
		"retry_in", delay.String(),
	)
	return int(n), int(n) >= t.maxAttempts, nil
}

// Backoff returns the wait after the given number of failed attempts.
func (t *Tracker) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	delay := t.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= t.maxDelay {
			return t.maxDelay
		}
	}
	return delay
}

// Reset clears the attempt state after a success.
func (t *Tracker) Reset(ctx context.Context, stage, correlationID string) error {
	return t.redisClient.Del(ctx, attemptsKey(stage, correlationID)).Err()
}

// Hold parks the item until an operator releases it.
func (t *Tracker) Hold(ctx context.Context, stage, correlationID string) error {
	pipe := t.redisClient.TxPipeline()
	pipe.SAdd(ctx, heldKey(stage), correlationID)
	pipe.Del(ctx, attemptsKey(stage, correlationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("holding %s/%s: %w", stage, correlationID, err)
	}
	return nil
}

// Release lifts a hold and clears attempt state so the item is picked up
// on the next poll if it still qualifies.
func (t *Tracker) Release(ctx context.Context, stage, correlationID string) error {
	pipe := t.redisClient.TxPipeline()
	pipe.SRem(ctx, heldKey(stage), correlationID)
	pipe.Del(ctx, attemptsKey(stage, correlationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("releasing %s/%s: %w", stage, correlationID, err)
	}
	return nil
}

// Held lists the held correlation IDs of a stage.
func (t *Tracker) Held(ctx context.Context, stage string) ([]string, error) {
	return t.redisClient.SMembers(ctx, heldKey(stage)).Result()
}
