package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeadLetterRecord holds data for inserting a dead letter entry.
type DeadLetterRecord struct {
	Stage         string
	CorrelationID string
	Outcome       string
	Reason        string
	Attempts      int
}

const deadLetterColumns = `id, stage, correlation_id, outcome, reason, attempts, created_at, resolved_at, resolved_by`

// InsertDeadLetter records an item that stopped making progress.
func (s *PostgresStore) InsertDeadLetter(ctx context.Context, rec DeadLetterRecord) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := s.pool.QueryRow(ctx, `
		INSERT INTO dead_letters (id, stage, correlation_id, outcome, reason, attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+deadLetterColumns,
		uuid.NewString(), rec.Stage, rec.CorrelationID, rec.Outcome, rec.Reason, rec.Attempts,
	).Scan(deadLetterTargets(&dl)...)
	if err != nil {
		return nil, fmt.Errorf("inserting dead letter: %w", err)
	}
	return &dl, nil
}

// ListDeadLetters returns dead letter entries with optional filtering.
func (s *PostgresStore) ListDeadLetters(ctx context.Context, stage string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	query, args := deadLetterListQuery(stage, resolved, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	letters := []domain.DeadLetter{}
	for rows.Next() {
		var dl domain.DeadLetter
		if err := rows.Scan(deadLetterTargets(&dl)...); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return letters, nil
}

// GetDeadLetter returns a single dead letter by ID.
func (s *PostgresStore) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := s.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1`, id,
	).Scan(deadLetterTargets(&dl)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting dead letter: %w", err)
	}
	return &dl, nil
}

// ResolveDeadLetter marks an open dead letter as resolved. It returns nil
// when the entry does not exist or was already resolved.
func (s *PostgresStore) ResolveDeadLetter(ctx context.Context, id, resolvedBy string) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := s.pool.QueryRow(ctx, `
		UPDATE dead_letters SET resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING `+deadLetterColumns,
		id, resolvedBy,
	).Scan(deadLetterTargets(&dl)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving dead letter: %w", err)
	}
	return &dl, nil
}

func deadLetterTargets(dl *domain.DeadLetter) []any {
	return []any{
		&dl.ID, &dl.Stage, &dl.CorrelationID, &dl.Outcome, &dl.Reason,
		&dl.Attempts, &dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy,
	}
}

func deadLetterListQuery(stage string, resolved bool, limit int) (string, []any) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	args := []any{}
	conditions := []string{}

	if stage != "" {
		args = append(args, stage)
		conditions = append(conditions, fmt.Sprintf("stage = $%d", len(args)))
	}
	if resolved {
		conditions = append(conditions, "resolved_at IS NOT NULL")
	} else {
		conditions = append(conditions, "resolved_at IS NULL")
	}

	query += " WHERE " + strings.Join(conditions, " AND ")
	query += " ORDER BY created_at DESC"

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}
