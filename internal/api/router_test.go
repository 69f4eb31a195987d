package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret    = "test-jwt-secret"
	testServiceToken = "test-service-token"
	testCorrelation  = "6f1c2b9e-8d3a-4a57-9a0e-2f6b1d4c8e90"
	settlementWallet = "0x1111111111111111111111111111111111111111"
	tokenWallet      = "0x2222222222222222222222222222222222222222"
)

type testServer struct {
	handler http.Handler
	store   *store.SQLiteStore
	tracker *engine.Tracker
	market  *fakeMarket
}

type fakeMarket struct {
	ask      decimal.Decimal
	open     bool
	quoteErr error
}

func (m *fakeMarket) LatestQuote(ctx context.Context, symbol string) (*exchange.Quote, error) {
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	return &exchange.Quote{Symbol: symbol, Ask: m.ask, Bid: m.ask.Sub(decimal.RequireFromString("0.06")), QuotedAt: time.Now()}, nil
}

func (m *fakeMarket) MarketClock(ctx context.Context) (*exchange.Clock, error) {
	now := time.Now()
	return &exchange.Clock{Timestamp: now, IsOpen: m.open, NextOpen: now.Add(18 * time.Hour), NextClose: now.Add(2 * time.Hour)}, nil
}

func setupServer(t *testing.T, rateLimit float64, burst int) *testServer {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	tracker := engine.NewTracker(client, logger, 3, time.Second)
	market := &fakeMarket{ask: decimal.RequireFromString("497.61"), open: true}

	handler := NewRouter(RouterConfig{
		Store:         s,
		Recorder:      engine.NewRecorder(s, s),
		Tracker:       tracker,
		Breaker:       engine.NewCircuitBreaker(client, logger, 5, time.Minute),
		Collaborators: []string{"exchange", "ledger"},
		MarketData:    market,
		Symbol:        "SPY",
		JWTSecret:     testJWTSecret,
		ServiceToken:  testServiceToken,
		RateLimit:     rateLimit,
		Burst:         burst,
		Logger:        logger,
	})
	return &testServer{handler: handler, store: s, tracker: tracker, market: market}
}

func userToken(t *testing.T, sub string, mutate func(*jwt.RegisteredClaims)) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	if mutate != nil {
		mutate(&claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) registerWallets(t *testing.T, token string) {
	t.Helper()
	rec := s.do(t, http.MethodPut, "/api/v1/wallets", token, domain.RegisterWalletRequest{
		SettlementWallet: settlementWallet,
		TokenWallet:      tokenWallet,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := setupServer(t, 0, 0)

	rec := s.do(t, http.MethodGet, "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
}

func TestUserAuth(t *testing.T) {
	s := setupServer(t, 0, 0)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"expired", userToken(t, "user-1", func(c *jwt.RegisteredClaims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		})},
		{"wrong audience", userToken(t, "user-1", func(c *jwt.RegisteredClaims) {
			c.Audience = jwt.ClaimStrings{"anon"}
		})},
		{"no subject", userToken(t, "", nil)},
		{"service token", testServiceToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/v1/orders", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestServiceAuth(t *testing.T) {
	s := setupServer(t, 0, 0)

	rec := s.do(t, http.MethodGet, "/api/v1/dead-letters", userToken(t, "user-1", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/dead-letters", testServiceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestWallets(t *testing.T) {
	s := setupServer(t, 0, 0)
	token := userToken(t, "user-1", nil)

	rec := s.do(t, http.MethodGet, "/api/v1/wallets", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/wallets", token, domain.RegisterWalletRequest{
		SettlementWallet: "not-an-address",
		TokenWallet:      tokenWallet,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.registerWallets(t, token)

	rec = s.do(t, http.MethodGet, "/api/v1/wallets", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wallet := decode[domain.Wallet](t, rec)
	assert.Equal(t, "user-1", wallet.UserID)
	assert.Equal(t, tokenWallet, wallet.TokenWallet)
}

func TestBuyOrderFlow(t *testing.T) {
	s := setupServer(t, 0, 0)
	token := userToken(t, "user-1", nil)
	s.registerWallets(t, token)

	rec := s.do(t, http.MethodPost, "/api/v1/orders/buy", token, map[string]string{
		"correlation_id": testCorrelation,
		"amount":         "50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Event](t, rec)
	assert.Equal(t, domain.KindBuyOrderCreated, created.Kind)
	assert.Equal(t, settlementWallet, created.SettlementWallet)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/buy", token, map[string]string{
		"correlation_id": testCorrelation,
		"amount":         "50",
	})
	assert.Equal(t, http.StatusConflict, rec.Code, "same correlation id twice")

	rec = s.do(t, http.MethodPost, "/api/v1/ledger/settlement-deposits", testServiceToken, map[string]string{
		"correlation_id": testCorrelation,
		"from_wallet":    settlementWallet,
		"amount":         "50.00",
		"tx_hash":        "0xdeposit",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	deposit := decode[domain.Event](t, rec)
	require.NotNil(t, deposit.DepositTxHash)
	assert.Equal(t, "0xdeposit", *deposit.DepositTxHash)
	assert.True(t, deposit.BuyFee.Decimal.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, deposit.NetBuyValue.Decimal.Equal(decimal.RequireFromString("49.75")))

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+testCorrelation, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[orderStatus](t, rec)
	assert.True(t, status.Valid)
	assert.False(t, status.Complete)
	assert.Equal(t, domain.KindBuyOrderDispatched, status.NextKind)
	assert.Len(t, status.Events, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+strings.ToUpper(testCorrelation), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, "correlation ids are case-insensitive")
	assert.Equal(t, testCorrelation, decode[orderStatus](t, rec).CorrelationID)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+testCorrelation, userToken(t, "user-2", nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other users cannot see the order")

	rec = s.do(t, http.MethodGet, "/api/v1/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[[]domain.Event](t, rec)
	require.Len(t, latest, 1)
	assert.Equal(t, domain.KindSettlementReceived, latest[0].Kind)
}

func TestIntakeErrors(t *testing.T) {
	s := setupServer(t, 0, 0)
	token := userToken(t, "user-1", nil)
	s.registerWallets(t, token)

	tests := []struct {
		name   string
		path   string
		token  string
		body   map[string]string
		status int
	}{
		{"buy below minimum", "/api/v1/orders/buy", token, map[string]string{"amount": "9.99"}, http.StatusBadRequest},
		{"buy too precise", "/api/v1/orders/buy", token, map[string]string{"amount": "10.0000001"}, http.StatusBadRequest},
		{"sell bad correlation id", "/api/v1/orders/sell", token, map[string]string{"amount": "1", "correlation_id": "abc"}, http.StatusBadRequest},
		{"no wallets registered", "/api/v1/orders/sell", userToken(t, "user-2", nil), map[string]string{"amount": "1"}, http.StatusUnprocessableEntity},
		{"unknown field", "/api/v1/orders/buy", token, map[string]string{"amount": "50", "price": "1"}, http.StatusBadRequest},
		{"deposit without order", "/api/v1/ledger/token-deposits", testServiceToken, map[string]string{
			"correlation_id": testCorrelation, "from_wallet": tokenWallet, "amount": "1",
		}, http.StatusNotFound},
		{"mint confirmation without mint", "/api/v1/ledger/mints-settled", testServiceToken, map[string]string{
			"correlation_id": testCorrelation, "tx_hash": "0xabc",
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestDepositFromWrongWallet(t *testing.T) {
	s := setupServer(t, 0, 0)
	token := userToken(t, "user-1", nil)
	s.registerWallets(t, token)

	rec := s.do(t, http.MethodPost, "/api/v1/orders/sell", token, map[string]string{
		"correlation_id": testCorrelation,
		"amount":         "0.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/ledger/token-deposits", testServiceToken, map[string]string{
		"correlation_id": testCorrelation,
		"from_wallet":    settlementWallet,
		"amount":         "0.5",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeadLetterResolveReleasesHold(t *testing.T) {
	s := setupServer(t, 0, 0)
	ctx := context.Background()

	dl, err := s.store.InsertDeadLetter(ctx, store.DeadLetterRecord{
		Stage: "mint", CorrelationID: testCorrelation, Outcome: "fatal", Reason: "tx sent but not recorded", Attempts: 1,
	})
	require.NoError(t, err)
	require.NoError(t, s.tracker.Hold(ctx, "mint", testCorrelation))

	rec := s.do(t, http.MethodGet, "/api/v1/dead-letters/"+dl.ID, testServiceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/metrics", testServiceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decode[metricsResponse](t, rec)
	assert.Equal(t, 1, metrics.HeldItems["mint"])
	assert.Equal(t, engine.StateClosed, metrics.Circuits["ledger"].State)

	rec = s.do(t, http.MethodPost, "/api/v1/dead-letters/"+dl.ID+"/resolve", testServiceToken, map[string]string{"resolved_by": "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[domain.DeadLetter](t, rec)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "ops", *resolved.ResolvedBy)

	held, err := s.tracker.Held(ctx, "mint")
	require.NoError(t, err)
	assert.Empty(t, held)

	rec = s.do(t, http.MethodPost, "/api/v1/dead-letters/"+dl.ID+"/resolve", testServiceToken, map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/dead-letters?resolved=true", testServiceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.DeadLetter](t, rec), 1)
}

func TestRateLimit(t *testing.T) {
	s := setupServer(t, 1, 2)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestQuote(t *testing.T) {
	s := setupServer(t, 0, 0)
	token := userToken(t, "user-1", nil)

	rec := s.do(t, http.MethodGet, "/api/v1/orders/quote?side=buy&amount=100", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	buy := decode[quoteResponse](t, rec)
	assert.Equal(t, "SPY", buy.Symbol)
	assert.True(t, buy.Estimate.Equal(decimal.RequireFromString("0.200960592")))
	assert.True(t, buy.MarketOpen)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/quote?side=sell&amount=0.5", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sell := decode[quoteResponse](t, rec)
	assert.Equal(t, exchange.SideSell, sell.Side)
	assert.True(t, sell.Estimate.Equal(decimal.RequireFromString("248.805")))

	for _, q := range []string{"side=buy", "side=buy&amount=-1", "side=hold&amount=1"} {
		rec = s.do(t, http.MethodGet, "/api/v1/orders/quote?"+q, token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/orders/quote?amount=1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	s.market.quoteErr = exchange.ErrNoQuote
	rec = s.do(t, http.MethodGet, "/api/v1/orders/quote?amount=1", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
