package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
)

// Store is the durable side of the orchestrator: the event log, the wallet
// directory and the dead letter table. Both backends satisfy it.
type Store interface {
	Append(ctx context.Context, e domain.Event) (*domain.Event, error)
	FindByCorrelation(ctx context.Context, correlationID string, kind domain.Kind) (*domain.Event, error)
	Qualifying(ctx context.Context, stage domain.Stage) ([]domain.Event, error)
	History(ctx context.Context, correlationID string) ([]domain.Event, error)
	LatestPerCorrelation(ctx context.Context, userID string) ([]domain.Event, error)

	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	UpsertWallet(ctx context.Context, userID string, req domain.RegisterWalletRequest) (*domain.Wallet, error)

	InsertDeadLetter(ctx context.Context, rec DeadLetterRecord) (*domain.DeadLetter, error)
	ListDeadLetters(ctx context.Context, stage string, resolved bool, limit int) ([]domain.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id, resolvedBy string) (*domain.DeadLetter, error)

	GetPipelineMetrics(ctx context.Context) (*PipelineMetrics, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Open picks a backend from the URL scheme: postgres:// or postgresql://
// for Postgres, sqlite:// (or sqlite::memory:) for an embedded database.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgres(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite:"):
		dsn := strings.TrimPrefix(databaseURL, "sqlite:")
		dsn = strings.TrimPrefix(dsn, "//")
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database url scheme in %q", databaseURL)
	}
}
