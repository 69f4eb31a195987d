package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []domain.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, e domain.Event) error {
	n.events = append(n.events, e)
	return n.err
}

func TestJournal_NotifiesAfterAppend(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))

	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("broker down")}
	j := NewJournal(s, testLogger(), nil, failing, ok)

	rec := domain.Record{CorrelationID: uuid.NewString(), UserID: "u", SettlementWallet: "0xa", TokenWallet: "0xb"}
	saved, err := j.Append(ctx, domain.Event{Kind: domain.KindBuyOrderCreated, Record: rec})
	require.NoError(t, err, "notifier errors never fail the append")

	require.Len(t, ok.events, 1)
	assert.Equal(t, saved.ID, ok.events[0].ID)
	assert.Len(t, failing.events, 1)

	_, err = j.Append(ctx, domain.Event{Kind: domain.KindBuyOrderCreated, Record: rec})
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
	assert.Len(t, ok.events, 1, "failed appends are not announced")
}
