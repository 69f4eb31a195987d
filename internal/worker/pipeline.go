package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Pipeline wires one dispatcher per stage to a shared pool and runner.
type Pipeline struct {
	pool        *Pool
	runner      *Runner
	dispatchers []*Dispatcher
	logger      *slog.Logger
}

type PipelineConfig struct {
	NumWorkers   int
	PollInterval time.Duration
}

func NewPipeline(cfg PipelineConfig, deps Deps, claims *engine.Claims, tracker *engine.Tracker, deadLetters DeadLetterSink, metrics *telemetry.Metrics, logger *slog.Logger) *Pipeline {
	processors := Processors(deps)
	runner := NewRunner(processors, deps.Log, claims, tracker, deadLetters, metrics, logger)
	pool := NewPool(cfg.NumWorkers, runner, logger)

	dispatchers := make([]*Dispatcher, 0, len(processors))
	for _, p := range processors {
		dispatchers = append(dispatchers, NewDispatcher(p, deps.Log, claims, tracker, pool, logger, cfg.PollInterval))
	}

	return &Pipeline{pool: pool, runner: runner, dispatchers: dispatchers, logger: logger}
}

// Run restores holds, then polls every stage until ctx is cancelled and
// waits for running tasks to finish.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.runner.RestoreHolds(ctx); err != nil {
		return err
	}

	p.pool.Start(ctx)
	defer p.pool.Stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range p.dispatchers {
		g.Go(func() error {
			d.Start(gctx)
			return nil
		})
	}
	return g.Wait()
}
