package store

import (
	"context"
	"fmt"
)

// PipelineMetrics holds aggregate counts for the dashboard.
type PipelineMetrics struct {
	TotalEvents       int            `json:"total_events"`
	Workflows         int            `json:"workflows"`
	EventsByKind      map[string]int `json:"events_by_kind"`
	OpenDeadLetters   int            `json:"open_dead_letters"`
	RegisteredWallets int            `json:"registered_wallets"`
}

const (
	metricsTotalsQuery = `SELECT
		(SELECT COUNT(*) FROM events),
		(SELECT COUNT(DISTINCT correlation_id) FROM events),
		(SELECT COUNT(*) FROM dead_letters WHERE resolved_at IS NULL),
		(SELECT COUNT(*) FROM registered_wallets)`
	metricsByKindQuery = `SELECT kind, COUNT(*) FROM events GROUP BY kind`
)

// GetPipelineMetrics returns counts across the event log and dead letters.
func (s *PostgresStore) GetPipelineMetrics(ctx context.Context) (*PipelineMetrics, error) {
	m := &PipelineMetrics{EventsByKind: map[string]int{}}

	err := s.pool.QueryRow(ctx, metricsTotalsQuery).Scan(
		&m.TotalEvents, &m.Workflows, &m.OpenDeadLetters, &m.RegisteredWallets,
	)
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}

	rows, err := s.pool.Query(ctx, metricsByKindQuery)
	if err != nil {
		return nil, fmt.Errorf("querying events by kind: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scanning kind count: %w", err)
		}
		m.EventsByKind[kind] = count
	}
	return m, rows.Err()
}
