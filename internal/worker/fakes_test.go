package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
	"github.com/Priya8975/token-settlement-orchestrator/internal/ledger"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testSettlementWallet = "0x1111111111111111111111111111111111111111"
	testTokenWallet      = "0x2222222222222222222222222222222222222222"
	testAdminWallet      = "0x9999999999999999999999999999999999999999"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeExchange fills every order immediately. Buys fill buyQty units at
// price; sells fill the requested quantity at price. A nil entry in fills
// is an order still working.
type fakeExchange struct {
	mu      sync.Mutex
	placed  []exchange.OrderRequest
	price   decimal.Decimal
	buyQty  decimal.Decimal
	delay   time.Duration
	fills   map[string]*exchange.Fill
	fillErr error
	placeFn func() error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{price: d("497.50"), buyQty: d("0.1"), fills: map[string]*exchange.Fill{}}
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeFn != nil {
		if err := f.placeFn(); err != nil {
			return "", err
		}
	}

	f.placed = append(f.placed, req)
	id := fmt.Sprintf("ord-%d", len(f.placed))
	qty := f.buyQty
	if req.Side == exchange.SideSell {
		qty = req.Quantity.Decimal
	}
	f.fills[id] = &exchange.Fill{OrderID: id, FilledQuantity: qty, FilledAvgPrice: f.price, FilledAt: time.Now()}
	return id, nil
}

func (f *fakeExchange) FilledOrder(ctx context.Context, orderID string) (*exchange.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fillErr != nil {
		return nil, f.fillErr
	}
	fill, ok := f.fills[orderID]
	if !ok {
		return nil, errors.New("unknown order")
	}
	return fill, nil
}

func (f *fakeExchange) orders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest(nil), f.placed...)
}

type ledgerCall struct {
	Op      string
	Account string
	Amount  decimal.Decimal
	Tag     ledger.Tag
}

type fakeLedger struct {
	mu          sync.Mutex
	calls       []ledgerCall
	transferErr error
	tokenErr    error
	status      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{status: 1}
}

func (f *fakeLedger) record(c ledgerCall) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return &ledger.Receipt{
		TxHash:  fmt.Sprintf("0x%s%d", c.Op, len(f.calls)),
		Status:  f.status,
		GasCost: d("0.0021"),
	}, nil
}

func (f *fakeLedger) Mint(ctx context.Context, to string, amount decimal.Decimal, tag ledger.Tag) (*ledger.Receipt, error) {
	return f.token(ledgerCall{Op: "mint", Account: to, Amount: amount, Tag: tag})
}

func (f *fakeLedger) Burn(ctx context.Context, from string, amount decimal.Decimal, tag ledger.Tag) (*ledger.Receipt, error) {
	return f.token(ledgerCall{Op: "burn", Account: from, Amount: amount, Tag: tag})
}

// token records a mint or burn as executed, then fails it with tokenErr
// when set.
func (f *fakeLedger) token(c ledgerCall) (*ledger.Receipt, error) {
	receipt, _ := f.record(c)
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return receipt, nil
}

func (f *fakeLedger) TransferSettlement(ctx context.Context, to string, amount decimal.Decimal) (*ledger.Receipt, error) {
	if f.transferErr != nil {
		f.mu.Lock()
		f.calls = append(f.calls, ledgerCall{Op: "transfer", Account: to, Amount: amount})
		f.mu.Unlock()
		return nil, f.transferErr
	}
	return f.record(ledgerCall{Op: "transfer", Account: to, Amount: amount})
}

func (f *fakeLedger) callsFor(op string) []ledgerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledgerCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	store    *store.SQLiteStore
	redis    *redis.Client
	mr       *miniredis.Miniredis
	recorder *engine.Recorder
	tracker  *engine.Tracker
	claims   *engine.Claims
	exchange *fakeExchange
	ledger   *fakeLedger
	deps     Deps
	logger   *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	_, err = s.UpsertWallet(ctx, "user-1", domain.RegisterWalletRequest{
		SettlementWallet: testSettlementWallet,
		TokenWallet:      testTokenWallet,
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ex, lg := newFakeExchange(), newFakeLedger()

	h := &harness{
		store:    s,
		redis:    client,
		mr:       mr,
		recorder: engine.NewRecorder(s, s),
		tracker:  engine.NewTracker(client, logger, 3, 10*time.Millisecond),
		claims:   engine.NewClaims(client, time.Minute),
		exchange: ex,
		ledger:   lg,
		logger:   logger,
	}
	h.deps = Deps{
		Log:         s,
		Exchange:    ex,
		Ledger:      lg,
		Symbol:      "SPY",
		AdminWallet: testAdminWallet,
		FillTimeout: 2 * time.Second,
		FillPoll:    10 * time.Millisecond,
		Logger:      logger,
	}
	return h
}

func (h *harness) runner(processors ...Processor) *Runner {
	if len(processors) == 0 {
		processors = Processors(h.deps)
	}
	return NewRunner(processors, h.store, h.claims, h.tracker, h.store, nil, h.logger)
}

// seed appends the given kinds for a new workflow, carrying rec forward.
func (h *harness) seed(t *testing.T, rec domain.Record, kinds ...domain.Kind) string {
	t.Helper()
	id := rec.CorrelationID
	if id == "" {
		id = "6f1c2b9e-8d3a-4a57-9a0e-2f6b1d4c8e90"
	}
	prior := domain.Event{Record: domain.Record{
		CorrelationID:    id,
		UserID:           "user-1",
		SettlementWallet: testSettlementWallet,
		TokenWallet:      testTokenWallet,
	}.Overlay(rec)}
	for _, k := range kinds {
		saved, err := h.store.Append(context.Background(), engine.CarryForward(prior, k, domain.Record{}))
		require.NoError(t, err)
		prior = *saved
	}
	return id
}

func (h *harness) find(t *testing.T, id string, kind domain.Kind) *domain.Event {
	t.Helper()
	e, err := h.store.FindByCorrelation(context.Background(), id, kind)
	require.NoError(t, err)
	return e
}

// stubProcessor returns queued results in order and counts calls.
type stubProcessor struct {
	mu      sync.Mutex
	stage   domain.Stage
	results []engine.Result
	calls   int
}

func (p *stubProcessor) Stage() domain.Stage  { return p.stage }
func (p *stubProcessor) Guard() *engine.Guard { return nil }

func (p *stubProcessor) Process(ctx context.Context, e domain.Event) engine.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return engine.Succeeded()
	}
	r := p.results[0]
	p.results = p.results[1:]
	return r
}

func (p *stubProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
