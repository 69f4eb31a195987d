package engine

import (
	"context"
	"fmt"
)

// Guard wraps calls to one external collaborator with the shared rate
// limiter and circuit breaker.
type Guard struct {
	name    string
	breaker *CircuitBreaker
	limiter *RateLimiter
	limit   int
}

func NewGuard(name string, breaker *CircuitBreaker, limiter *RateLimiter, limit int) *Guard {
	return &Guard{name: name, breaker: breaker, limiter: limiter, limit: limit}
}

func (g *Guard) Name() string {
	return g.name
}

// Open reports whether the collaborator's circuit currently refuses calls.
func (g *Guard) Open(ctx context.Context) bool {
	return g.breaker != nil && g.breaker.IsOpen(ctx, g.name)
}

// Admit waits for the rate limiter and checks the circuit. A nil error
// means the caller may make exactly one call through Call.
func (g *Guard) Admit(ctx context.Context) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, g.name, g.limit); err != nil {
			return fmt.Errorf("waiting for %s rate limit: %w", g.name, err)
		}
	}
	if g.breaker != nil {
		if _, allowed := g.breaker.AllowRequest(ctx, g.name); !allowed {
			return fmt.Errorf("calling %s: %w", g.name, ErrCircuitOpen)
		}
	}
	return nil
}

// Call runs fn and records its result on the circuit. Errors from fn count
// as collaborator failures.
func (g *Guard) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		if g.breaker != nil {
			g.breaker.RecordFailure(ctx, g.name)
		}
		return err
	}
	if g.breaker != nil {
		g.breaker.RecordSuccess(ctx, g.name)
	}
	return nil
}

// Do admits and then calls fn.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Admit(ctx); err != nil {
		return err
	}
	return g.Call(ctx, fn)
}
