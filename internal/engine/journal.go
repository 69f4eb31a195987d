package engine

import (
	"context"
	"log/slog"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/telemetry"
)

// EventLog is the append-only store of workflow events.
type EventLog interface {
	Append(ctx context.Context, e domain.Event) (*domain.Event, error)
	FindByCorrelation(ctx context.Context, correlationID string, kind domain.Kind) (*domain.Event, error)
	Qualifying(ctx context.Context, stage domain.Stage) ([]domain.Event, error)
	History(ctx context.Context, correlationID string) ([]domain.Event, error)
	LatestPerCorrelation(ctx context.Context, userID string) ([]domain.Event, error)
}

// Notifier receives every event after it is durably appended.
type Notifier interface {
	Notify(ctx context.Context, e domain.Event) error
}

// Journal is an EventLog that announces appended events to notifiers.
// Notifier failures are logged and never undo or fail the append.
type Journal struct {
	EventLog
	notifiers []Notifier
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

func NewJournal(log EventLog, logger *slog.Logger, metrics *telemetry.Metrics, notifiers ...Notifier) *Journal {
	return &Journal{
		EventLog:  log,
		notifiers: notifiers,
		metrics:   metrics,
		logger:    logger,
	}
}

func (j *Journal) Append(ctx context.Context, e domain.Event) (*domain.Event, error) {
	saved, err := j.EventLog.Append(ctx, e)
	if err != nil {
		return nil, err
	}

	j.metrics.EventAppended(ctx, string(saved.Kind))
	j.logger.Info("event appended",
		"kind", saved.Kind,
		"correlation_id", saved.CorrelationID,
		"id", saved.ID,
	)

	for _, n := range j.notifiers {
		if err := n.Notify(ctx, *saved); err != nil {
			j.logger.Warn("notifier failed",
				"kind", saved.Kind,
				"correlation_id", saved.CorrelationID,
				"error", err,
			)
		}
	}
	return saved, nil
}
