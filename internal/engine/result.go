package engine

import (
	"errors"
	"fmt"
)

// Outcome classifies how a pipeline task ended.
type Outcome string

const (
	// OutcomeSucceeded means the stage appended its events.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomePrecondition means the item is not ready for the stage yet.
	OutcomePrecondition Outcome = "precondition"
	// OutcomeRetryable means a collaborator failed before any side effect.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeFatal means a side effect may have happened without being
	// recorded. The item must not be retried automatically.
	OutcomeFatal Outcome = "fatal"
)

// Result is what a stage processor reports for one item.
type Result struct {
	Outcome Outcome
	Err     error
}

func Succeeded() Result {
	return Result{Outcome: OutcomeSucceeded}
}

func Precondition(format string, args ...any) Result {
	return Result{Outcome: OutcomePrecondition, Err: fmt.Errorf(format, args...)}
}

func Retryable(err error) Result {
	return Result{Outcome: OutcomeRetryable, Err: err}
}

func Fatal(err error) Result {
	return Result{Outcome: OutcomeFatal, Err: err}
}

// Reason returns the error text, or "" for a success.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Sentinel errors for intake and collaborator calls.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidCorrelationID = errors.New("correlation id must be a uuid")
	ErrWalletNotRegistered  = errors.New("wallet not registered")
	ErrOrderNotFound        = errors.New("order not found")
	ErrWalletMismatch       = errors.New("wallet does not match order")
	ErrOutOfOrder           = errors.New("event out of order")
	ErrCircuitOpen          = errors.New("circuit open")
)
