package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker guards calls to an external collaborator (the exchange or
// the ledger gateway). State lives in Redis so every replica sees the same
// circuit.
//
//   - closed: calls go through and failures are counted.
//   - open: calls are refused until the cooldown has passed.
//   - half-open: a trial call is allowed. Success closes the circuit,
//     failure opens it again.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	now              func() time.Time
}

// CircuitBreakerState is the snapshot exposed on the metrics endpoint.
type CircuitBreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldown,
		now:              time.Now,
	}
}

func cbKey(collaborator string) string {
	return fmt.Sprintf("cb:%s", collaborator)
}

type circuit struct {
	state        string
	failures     int
	lastFailedAt int64
}

func (cb *CircuitBreaker) load(ctx context.Context, collaborator string) circuit {
	data, err := cb.redisClient.HGetAll(ctx, cbKey(collaborator)).Result()
	if err != nil || len(data) == 0 {
		return circuit{state: StateClosed}
	}
	c := circuit{state: data["state"]}
	c.failures, _ = strconv.Atoi(data["failures"])
	c.lastFailedAt, _ = strconv.ParseInt(data["last_failed_at"], 10, 64)
	if c.state == "" {
		c.state = StateClosed
	}
	return c
}

func (cb *CircuitBreaker) cooledDown(c circuit) bool {
	return cb.now().Unix()-c.lastFailedAt >= int64(cb.cooldownPeriod.Seconds())
}

// AllowRequest reports whether a call to the collaborator may proceed, and
// moves an open circuit to half-open once its cooldown has passed.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, collaborator string) (string, bool) {
	c := cb.load(ctx, collaborator)

	if c.state != StateOpen {
		return c.state, true
	}
	if !cb.cooledDown(c) {
		return StateOpen, false
	}

	cb.redisClient.HSet(ctx, cbKey(collaborator), "state", StateHalfOpen)
	cb.logger.Info("circuit breaker half-open", "collaborator", collaborator)
	return StateHalfOpen, true
}

// IsOpen reports whether calls are currently refused, without changing state.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, collaborator string) bool {
	c := cb.load(ctx, collaborator)
	return c.state == StateOpen && !cb.cooledDown(c)
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, collaborator string) {
	previous := cb.load(ctx, collaborator).state

	cb.redisClient.HSet(ctx, cbKey(collaborator), "state", StateClosed, "failures", 0)

	if previous == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "collaborator", collaborator)
	}
}

// RecordFailure counts a failed call and opens the circuit at the threshold
// or when a half-open trial fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, collaborator string) {
	key := cbKey(collaborator)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "collaborator", collaborator, "error", err)
		return
	}
	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	next := StateClosed
	switch {
	case state == StateHalfOpen:
		next = StateOpen
		cb.logger.Warn("circuit breaker re-opened (trial failed)", "collaborator", collaborator)
	case failures >= int64(cb.failureThreshold):
		next = StateOpen
		if state != StateOpen {
			cb.logger.Warn("circuit breaker opened",
				"collaborator", collaborator,
				"failures", failures,
				"threshold", cb.failureThreshold,
			)
		}
	}

	cb.redisClient.HSet(ctx, key, "state", next, "last_failed_at", cb.now().Unix())
}

// GetState returns the collaborator's circuit as the next AllowRequest
// would see it.
func (cb *CircuitBreaker) GetState(ctx context.Context, collaborator string) CircuitBreakerState {
	c := cb.load(ctx, collaborator)

	out := CircuitBreakerState{State: c.state, Failures: c.failures}
	if c.state == StateOpen && cb.cooledDown(c) {
		out.State = StateHalfOpen
	}
	if c.lastFailedAt > 0 {
		out.LastFailedAt = time.Unix(c.lastFailedAt, 0).UTC().Format(time.RFC3339)
	}
	return out
}
