package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore runs the same schema on an embedded database for local runs
// and tests. Timestamps are stored as unix microseconds and decimals as text.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"}
	if dsn != ":memory:" && !strings.Contains(dsn, "mode=memory") {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("applying sqlite schema: %w", err)
	}
	return nil
}

var pgParam = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders into SQLite's ?N form.
func rebind(query string) string {
	return pgParam.ReplaceAllString(query, "?$1")
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func (s *SQLiteStore) stamp() int64 {
	return s.now().UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func (s *SQLiteStore) Append(ctx context.Context, e domain.Event) (*domain.Event, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	createdAt := s.stamp()
	args := append([]any{createdAt}, insertArgs(e)...)
	res, err := s.db.ExecContext(ctx, rebind(
		`INSERT INTO events (created_at, `+insertColumns+`) VALUES (`+placeholders(1, len(args))+`)`),
		args...,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, fmt.Errorf("appending %s for %s: %w", e.Kind, e.CorrelationID, domain.ErrDuplicateEvent)
		}
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading event id: %w", err)
	}
	e.ID = id
	e.CreatedAt = fromMicros(createdAt)
	return &e, nil
}

func (s *SQLiteStore) FindByCorrelation(ctx context.Context, correlationID string, kind domain.Kind) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, rebind(`
		SELECT `+eventColumns+` FROM events
		WHERE correlation_id = $1 AND kind = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), correlationID, string(kind))

	e, err := s.scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting %s event for %s: %w", kind, correlationID, err)
	}
	return e, nil
}

func (s *SQLiteStore) Qualifying(ctx context.Context, stage domain.Stage) ([]domain.Event, error) {
	query, args, err := qualifyingQuery(stage)
	if err != nil {
		return nil, err
	}
	return s.queryEvents(ctx, rebind(query), args...)
}

func (s *SQLiteStore) History(ctx context.Context, correlationID string) ([]domain.Event, error) {
	return s.queryEvents(ctx, rebind(`
		SELECT `+eventColumns+` FROM events
		WHERE correlation_id = $1
		ORDER BY created_at, id
	`), correlationID)
}

func (s *SQLiteStore) LatestPerCorrelation(ctx context.Context, userID string) ([]domain.Event, error) {
	return s.queryEvents(ctx, rebind(`
		SELECT `+eventColumns+` FROM events e
		WHERE e.user_id = $1
		  AND e.id = (
			SELECT d.id FROM events d
			WHERE d.correlation_id = e.correlation_id
			ORDER BY d.created_at DESC, d.id DESC
			LIMIT 1
		  )
		ORDER BY e.created_at DESC, e.id DESC
	`), userID)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := s.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) scanEvent(row rowScanner) (*domain.Event, error) {
	var e domain.Event
	var createdAt int64
	if err := scanEvent(row, &createdAt, &e); err != nil {
		return nil, err
	}
	e.CreatedAt = fromMicros(createdAt)
	return &e, nil
}

func (s *SQLiteStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var w domain.Wallet
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, settlement_wallet, token_wallet, created_at, updated_at
		FROM registered_wallets WHERE user_id = ?1
	`, userID).Scan(&w.UserID, &w.SettlementWallet, &w.TokenWallet, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting wallet for %s: %w", userID, err)
	}
	w.CreatedAt, w.UpdatedAt = fromMicros(createdAt), fromMicros(updatedAt)
	return &w, nil
}

func (s *SQLiteStore) UpsertWallet(ctx context.Context, userID string, req domain.RegisterWalletRequest) (*domain.Wallet, error) {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registered_wallets (user_id, settlement_wallet, token_wallet, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?4)
		ON CONFLICT (user_id) DO UPDATE SET
			settlement_wallet = excluded.settlement_wallet,
			token_wallet = excluded.token_wallet,
			updated_at = excluded.updated_at
	`, userID, req.SettlementWallet, req.TokenWallet, now)
	if err != nil {
		return nil, fmt.Errorf("upserting wallet for %s: %w", userID, err)
	}
	return s.GetWallet(ctx, userID)
}

func (s *SQLiteStore) InsertDeadLetter(ctx context.Context, rec DeadLetterRecord) (*domain.DeadLetter, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, stage, correlation_id, outcome, reason, attempts, created_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)
	`, id, rec.Stage, rec.CorrelationID, rec.Outcome, rec.Reason, rec.Attempts, s.stamp())
	if err != nil {
		return nil, fmt.Errorf("inserting dead letter: %w", err)
	}
	return s.GetDeadLetter(ctx, id)
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, stage string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	query, args := deadLetterListQuery(stage, resolved, limit)

	rows, err := s.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	letters := []domain.DeadLetter{}
	for rows.Next() {
		dl, err := scanSQLiteDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		letters = append(letters, *dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return letters, nil
}

func (s *SQLiteStore) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?1`, id)
	dl, err := scanSQLiteDeadLetter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting dead letter: %w", err)
	}
	return dl, nil
}

func (s *SQLiteStore) ResolveDeadLetter(ctx context.Context, id, resolvedBy string) (*domain.DeadLetter, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letters SET resolved_at = ?2, resolved_by = ?3
		WHERE id = ?1 AND resolved_at IS NULL
	`, id, s.stamp(), resolvedBy)
	if err != nil {
		return nil, fmt.Errorf("resolving dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolving dead letter: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetDeadLetter(ctx, id)
}

func scanSQLiteDeadLetter(row rowScanner) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var createdAt int64
	var resolvedAt sql.NullInt64
	var resolvedBy sql.NullString
	err := row.Scan(&dl.ID, &dl.Stage, &dl.CorrelationID, &dl.Outcome, &dl.Reason,
		&dl.Attempts, &createdAt, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}
	dl.CreatedAt = fromMicros(createdAt)
	if resolvedAt.Valid {
		t := fromMicros(resolvedAt.Int64)
		dl.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		dl.ResolvedBy = &resolvedBy.String
	}
	return &dl, nil
}

func (s *SQLiteStore) GetPipelineMetrics(ctx context.Context) (*PipelineMetrics, error) {
	m := &PipelineMetrics{EventsByKind: map[string]int{}}

	err := s.db.QueryRowContext(ctx, metricsTotalsQuery).Scan(
		&m.TotalEvents, &m.Workflows, &m.OpenDeadLetters, &m.RegisteredWallets,
	)
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, metricsByKindQuery)
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
