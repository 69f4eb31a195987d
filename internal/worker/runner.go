package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
	"github.com/Priya8975/token-settlement-orchestrator/internal/telemetry"
)

// DeadLetterSink stores items that need an operator.
type DeadLetterSink interface {
	InsertDeadLetter(ctx context.Context, rec store.DeadLetterRecord) (*domain.DeadLetter, error)
	ListDeadLetters(ctx context.Context, stage string, resolved bool, limit int) ([]domain.DeadLetter, error)
}

// Runner executes tasks with the stage's processor and turns the result
// into attempt bookkeeping, dead letters and holds.
type Runner struct {
	processors  map[string]Processor
	history     engine.EventLog
	claims      *engine.Claims
	tracker     *engine.Tracker
	deadLetters DeadLetterSink
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

func NewRunner(processors []Processor, history engine.EventLog, claims *engine.Claims, tracker *engine.Tracker, deadLetters DeadLetterSink, metrics *telemetry.Metrics, logger *slog.Logger) *Runner {
	byStage := make(map[string]Processor, len(processors))
	for _, p := range processors {
		byStage[p.Stage().Name] = p
	}
	return &Runner{
		processors:  byStage,
		history:     history,
		claims:      claims,
		tracker:     tracker,
		deadLetters: deadLetters,
		metrics:     metrics,
		logger:      logger,
	}
}

// Handle runs one task. The claim taken by the dispatcher is always
// released when it returns.
func (r *Runner) Handle(ctx context.Context, task Task) {
	stage := task.Stage
	id := task.Event.CorrelationID
	logger := r.logger.With("stage", stage.Name, "correlation_id", id)

	defer r.release(stage.Name, id, logger)

	p, ok := r.processors[stage.Name]
	if !ok {
		logger.Error("no processor for stage")
		return
	}

	// The poll that produced this task may predate another worker finishing it.
	pending, err := r.stillQualifies(ctx, stage, id)
	if err != nil {
		logger.Error("failed to recheck item", "error", err)
		return
	}
	if !pending {
		logger.Debug("item already handled")
		return
	}

	start := time.Now()
	res := p.Process(ctx, task.Event)
	r.metrics.TaskFinished(ctx, stage.Name, string(res.Outcome), time.Since(start))

	switch res.Outcome {
	case engine.OutcomeSucceeded:
		logger.Info("stage completed", "duration_ms", time.Since(start).Milliseconds())
		if err := r.tracker.Reset(ctx, stage.Name, id); err != nil {
			logger.Warn("failed to reset attempts", "error", err)
		}

	case engine.OutcomePrecondition, engine.OutcomeRetryable:
		attempts, exhausted, err := r.tracker.RecordFailure(ctx, stage.Name, id)
		if err != nil {
			logger.Error("failed to record attempt", "error", err)
			return
		}
		logger.Warn("stage attempt failed",
			"outcome", res.Outcome,
			"attempts", attempts,
			"error", res.Reason(),
		)
		if exhausted {
			r.deadLetter(ctx, task, res, attempts, logger)
		}

	case engine.OutcomeFatal:
		attempts, _ := r.tracker.Attempts(ctx, stage.Name, id)
		logger.Error("stage failed after a side effect, holding for reconciliation",
			"outcome", res.Outcome,
			"error", res.Reason(),
		)
		r.deadLetter(ctx, task, res, attempts+1, logger)
	}
}

func (r *Runner) stillQualifies(ctx context.Context, stage domain.Stage, correlationID string) (bool, error) {
	events, err := r.history.History(ctx, correlationID)
	if err != nil {
		return false, fmt.Errorf("loading history: %w", err)
	}
	for _, e := range events {
		if e.Kind == stage.Done || e.Has(stage.DoneField) {
			return false, nil
		}
	}
	return true, nil
}

func (r *Runner) deadLetter(ctx context.Context, task Task, res engine.Result, attempts int, logger *slog.Logger) {
	stage, id := task.Stage.Name, task.Event.CorrelationID

	dl, err := r.deadLetters.InsertDeadLetter(ctx, store.DeadLetterRecord{
		Stage:         stage,
		CorrelationID: id,
		Outcome:       string(res.Outcome),
		Reason:        res.Reason(),
		Attempts:      attempts,
	})
	if err != nil {
		logger.Error("failed to insert dead letter", "error", err)
	}
	if err := r.tracker.Hold(ctx, stage, id); err != nil {
		logger.Error("failed to hold item", "error", err)
	}
	if dl != nil {
		logger.Error("item moved to dead letters", "dead_letter_id", dl.ID, "attempts", attempts)
	}
}

// RestoreHolds re-applies holds for every open dead letter so that a
// restart, or a flushed Redis, does not resume parked items.
func (r *Runner) RestoreHolds(ctx context.Context) error {
	open, err := r.deadLetters.ListDeadLetters(ctx, "", false, 0)
	if err != nil {
		return fmt.Errorf("listing open dead letters: %w", err)
	}
	for _, dl := range open {
		if err := r.tracker.Hold(ctx, dl.Stage, dl.CorrelationID); err != nil {
			return err
		}
	}
	if len(open) > 0 {
		r.logger.Info("restored holds", "count", len(open))
	}
	return nil
}

func (r *Runner) release(stage, correlationID string, logger *slog.Logger) {
	if r.claims == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.claims.Release(ctx, stage, correlationID); err != nil {
		logger.Warn("failed to release claim", "error", err)
	}
}
