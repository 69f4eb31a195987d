package engine

import (
	"context"
	"testing"
	"time"
)

func setupTestCB(t *testing.T) *CircuitBreaker {
	t.Helper()
	client, _ := setupTestRedis(t)
	return NewCircuitBreaker(client, testLogger(), 5, 30*time.Second)
}

// expireCooldown moves the breaker clock past the cooldown.
func expireCooldown(cb *CircuitBreaker) {
	cb.now = func() time.Time { return time.Now().Add(31 * time.Second) }
}

func openCircuit(cb *CircuitBreaker, collaborator string) {
	for i := 0; i < 5; i++ {
		cb.RecordFailure(context.Background(), collaborator)
	}
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := setupTestCB(t)

	state, allowed := cb.AllowRequest(context.Background(), "exchange")
	if state != StateClosed || !allowed {
		t.Errorf("expected closed and allowed, got %q allowed=%v", state, allowed)
	}
	if got := cb.GetState(context.Background(), "exchange"); got.Failures != 0 {
		t.Errorf("expected 0 failures, got %d", got.Failures)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := setupTestCB(t)
	openCircuit(cb, "exchange")

	state, allowed := cb.AllowRequest(context.Background(), "exchange")
	if state != StateOpen || allowed {
		t.Errorf("expected open and refused, got %q allowed=%v", state, allowed)
	}
	if !cb.IsOpen(context.Background(), "exchange") {
		t.Error("IsOpen should report the open circuit")
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := setupTestCB(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "exchange")
	}

	if state, allowed := cb.AllowRequest(ctx, "exchange"); state != StateClosed || !allowed {
		t.Errorf("expected closed below threshold, got %q", state)
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := setupTestCB(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "ledger")
	}
	cb.RecordSuccess(ctx, "ledger")

	got := cb.GetState(ctx, "ledger")
	if got.State != StateClosed || got.Failures != 0 {
		t.Errorf("expected closed with 0 failures, got %+v", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := setupTestCB(t)
	ctx := context.Background()
	openCircuit(cb, "exchange")
	expireCooldown(cb)

	if cb.IsOpen(ctx, "exchange") {
		t.Error("circuit should no longer refuse after cooldown")
	}
	state, allowed := cb.AllowRequest(ctx, "exchange")
	if state != StateHalfOpen || !allowed {
		t.Errorf("expected half-open trial, got %q allowed=%v", state, allowed)
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := setupTestCB(t)
	ctx := context.Background()
	openCircuit(cb, "exchange")
	expireCooldown(cb)
	cb.AllowRequest(ctx, "exchange")

	cb.RecordSuccess(ctx, "exchange")

	if got := cb.GetState(ctx, "exchange"); got.State != StateClosed {
		t.Errorf("expected closed after trial success, got %q", got.State)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := setupTestCB(t)
	ctx := context.Background()
	openCircuit(cb, "exchange")
	expireCooldown(cb)
	cb.AllowRequest(ctx, "exchange")

	cb.RecordFailure(ctx, "exchange")

	state, allowed := cb.AllowRequest(ctx, "exchange")
	if state != StateOpen || allowed {
		t.Errorf("expected open after trial failure, got %q allowed=%v", state, allowed)
	}
}

func TestCircuitBreaker_CollaboratorsAreIsolated(t *testing.T) {
	cb := setupTestCB(t)
	openCircuit(cb, "exchange")

	if state, allowed := cb.AllowRequest(context.Background(), "ledger"); state != StateClosed || !allowed {
		t.Errorf("ledger circuit should be closed, got %q", state)
	}
}
