package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
)

// Qualifier finds the items a stage should process.
type Qualifier interface {
	Qualifying(ctx context.Context, stage domain.Stage) ([]domain.Event, error)
}

// Dispatcher polls one stage's qualifying query and hands claimed items to
// the pool. It never waits for a task to finish.
type Dispatcher struct {
	processor    Processor
	qualifier    Qualifier
	claims       *engine.Claims
	tracker      *engine.Tracker
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewDispatcher creates a dispatcher for the processor's stage. A nil
// claims disables cross-worker exclusion.
func NewDispatcher(p Processor, q Qualifier, claims *engine.Claims, tracker *engine.Tracker, pool *Pool, logger *slog.Logger, pollInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		processor:    p,
		qualifier:    q,
		claims:       claims,
		tracker:      tracker,
		pool:         pool,
		logger:       logger.With("stage", p.Stage().Name),
		pollInterval: pollInterval,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", "poll_interval", d.pollInterval.String())

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll dispatches every ready item of the stage once.
func (d *Dispatcher) poll(ctx context.Context) int {
	stage := d.processor.Stage()

	if g := d.processor.Guard(); g != nil && g.Open(ctx) {
		d.logger.Debug("collaborator circuit open, skipping poll", "collaborator", g.Name())
		return 0
	}

	items, err := d.qualifier.Qualifying(ctx, stage)
	if err != nil {
		d.logger.Error("failed to query qualifying items", "error", err)
		return 0
	}

	scheduler, scheduled := d.processor.(Scheduler)
	now := time.Now()

	submitted := 0
	for _, e := range items {
		if ctx.Err() != nil {
			return submitted
		}
		if scheduled && now.Before(scheduler.NotBefore(e)) {
			continue
		}

		ready, err := d.tracker.Ready(ctx, stage.Name, e.CorrelationID)
		if err != nil {
			d.logger.Error("failed to check item state", "correlation_id", e.CorrelationID, "error", err)
			return submitted
		}
		if !ready {
			continue
		}

		if d.claims != nil {
			ok, err := d.claims.Acquire(ctx, stage.Name, e.CorrelationID)
			if err != nil {
				d.logger.Error("failed to claim item", "correlation_id", e.CorrelationID, "error", err)
				return submitted
			}
			if !ok {
				continue
			}
		}

		if !d.pool.TrySubmit(Task{Stage: stage, Event: e}) {
			d.release(ctx, stage, e.CorrelationID)
			d.logger.Warn("worker pool full, deferring to next poll", "queued", submitted)
			return submitted
		}
		submitted++
	}
	return submitted
}

func (d *Dispatcher) release(ctx context.Context, stage domain.Stage, correlationID string) {
	if d.claims == nil {
		return
	}
	if err := d.claims.Release(ctx, stage.Name, correlationID); err != nil {
		d.logger.Warn("failed to release claim", "correlation_id", correlationID, "error", err)
	}
}
