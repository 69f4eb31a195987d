package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Append inserts one event and returns it with its id and created_at.
// A second event of the same kind for a correlation ID is rejected with
// domain.ErrDuplicateEvent.
func (s *PostgresStore) Append(ctx context.Context, e domain.Event) (*domain.Event, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (`+insertColumns+`) VALUES (`+insertPlaceholder+`) RETURNING id, created_at`,
		insertArgs(e)...,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("appending %s for %s: %w", e.Kind, e.CorrelationID, domain.ErrDuplicateEvent)
		}
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	return &e, nil
}

// FindByCorrelation returns the latest event of kind for the workflow, or
// nil if there is none.
func (s *PostgresStore) FindByCorrelation(ctx context.Context, correlationID string, kind domain.Kind) (*domain.Event, error) {
	var e domain.Event
	row := s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE correlation_id = $1 AND kind = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, correlationID, string(kind))
	if err := scanEvent(row, &e.CreatedAt, &e); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting %s event for %s: %w", kind, correlationID, err)
	}
	return &e, nil
}

// Qualifying returns the trigger events of stage whose workflow has not
// reached the stage's done marker, oldest first.
func (s *PostgresStore) Qualifying(ctx context.Context, stage domain.Stage) ([]domain.Event, error) {
	query, args, err := qualifyingQuery(stage)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying qualifying %s events: %w", stage.Name, err)
	}
	return collectEvents(rows)
}

// History returns every event of one workflow in append order.
func (s *PostgresStore) History(ctx context.Context, correlationID string) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE correlation_id = $1
		ORDER BY created_at, id
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", correlationID, err)
	}
	return collectEvents(rows)
}

// LatestPerCorrelation returns the newest event of each of the user's
// workflows, newest workflow first.
func (s *PostgresStore) LatestPerCorrelation(ctx context.Context, userID string) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM (
			SELECT DISTINCT ON (correlation_id) `+eventColumns+`
			FROM events
			WHERE user_id = $1
			ORDER BY correlation_id, created_at DESC, id DESC
		) latest
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying orders for user %s: %w", userID, err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := scanEvent(rows, &e.CreatedAt, &e); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}
