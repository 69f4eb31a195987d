package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
	"github.com/Priya8975/token-settlement-orchestrator/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPipeline(t *testing.T, h *harness) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(PipelineConfig{NumWorkers: 4, PollInterval: 20 * time.Millisecond},
		h.deps, h.claims, h.tracker, h.store, nil, h.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func (h *harness) eventually(t *testing.T, id string, kind domain.Kind) *domain.Event {
	t.Helper()
	var found *domain.Event
	require.Eventually(t, func() bool {
		e, err := h.store.FindByCorrelation(context.Background(), id, kind)
		if err != nil || e == nil {
			return false
		}
		found = e
		return true
	}, 5*time.Second, 20*time.Millisecond, "waiting for %s", kind)
	return found
}

func TestPipeline_BuyToMint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.recorder.CreateBuyOrder(ctx, "user-1", "", d("50"))
	require.NoError(t, err)
	deposit, err := h.recorder.RecordSettlementReceived(ctx, testSettlementWallet, order.CorrelationID, d("50.00"), "")
	require.NoError(t, err)
	assert.True(t, deposit.BuyFee.Decimal.Equal(d("0.25")))
	assert.True(t, deposit.NetBuyValue.Decimal.Equal(d("49.75")))

	runPipeline(t, h)

	minted := h.eventually(t, order.CorrelationID, domain.KindMintInitiated)

	orders := h.exchange.orders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideBuy, orders[0].Side)
	assert.True(t, orders[0].Notional.Decimal.Equal(d("49.75")))
	assert.Equal(t, order.CorrelationID, orders[0].ClientOrderID)

	purchased := h.find(t, order.CorrelationID, domain.KindAssetPurchased)
	require.NotNil(t, purchased)
	assert.True(t, purchased.MintPrice.Decimal.Equal(d("497.50")))
	assert.True(t, purchased.MintQuantity.Decimal.Equal(d("0.1")))
	require.NotNil(t, purchased.BuyOrderRef)
	assert.True(t, purchased.BuyNotional.Decimal.Equal(d("49.75")))
	assert.False(t, purchased.GasMint.Valid, "mint fields appear only once the mint is initiated")
	assert.Nil(t, purchased.InitiationTxHash)

	mints := h.ledger.callsFor("mint")
	require.Len(t, mints, 1)
	assert.Equal(t, testTokenWallet, mints[0].Account)
	assert.True(t, mints[0].Amount.Equal(d("0.1")))
	tag, err := ledger.CorrelationTag(order.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, tag, mints[0].Tag)

	assert.True(t, minted.NetBuyValue.Decimal.Equal(d("49.75")), "values carry forward")
	require.NotNil(t, minted.InitiationTxHash)
	assert.True(t, minted.GasMint.Valid)

	_, err = h.recorder.RecordMintSettled(ctx, order.CorrelationID, "0xconfirmed")
	require.NoError(t, err)

	history, err := h.store.History(ctx, order.CorrelationID)
	require.NoError(t, err)
	kinds := make([]domain.Kind, len(history))
	for i, e := range history {
		kinds[i] = e.Kind
	}
	assert.Equal(t, domain.BuyPath, kinds)
}

func TestPipeline_SellBurnRedeem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.exchange.price = d("500")

	order, err := h.recorder.CreateSellOrder(ctx, "user-1", "", d("0.5"))
	require.NoError(t, err)
	_, err = h.recorder.RecordTokenReceived(ctx, testTokenWallet, order.CorrelationID, d("0.5"), "")
	require.NoError(t, err)

	runPipeline(t, h)

	h.eventually(t, order.CorrelationID, domain.KindBurnInitiated)

	sold := h.find(t, order.CorrelationID, domain.KindAssetSold)
	require.NotNil(t, sold)
	assert.True(t, sold.SellGrossValue.Decimal.Equal(d("250")))
	assert.True(t, sold.SellFee.Decimal.Equal(d("2.5")))
	assert.True(t, sold.SellNetValue.Decimal.Equal(d("247.5")))
	assert.True(t, sold.BurnQuantity.Decimal.Equal(d("0.5")))

	burns := h.ledger.callsFor("burn")
	require.Len(t, burns, 1)
	assert.Equal(t, testAdminWallet, burns[0].Account)
	assert.True(t, burns[0].Amount.Equal(d("0.5")))

	_, err = h.recorder.RecordBurnSettled(ctx, order.CorrelationID, "0xburned")
	require.NoError(t, err)

	settled := h.eventually(t, order.CorrelationID, domain.KindRedemptionSettled)
	assert.True(t, settled.RedemptionSent.Decimal.Equal(d("247.5")))

	transfers := h.ledger.callsFor("transfer")
	require.Len(t, transfers, 1)
	assert.Equal(t, testSettlementWallet, transfers[0].Account)
	assert.True(t, transfers[0].Amount.Equal(d("247.5")))

	history, err := h.store.History(ctx, order.CorrelationID)
	require.NoError(t, err)
	require.Len(t, history, len(domain.SellPath))
	for i, e := range history {
		assert.Equal(t, domain.SellPath[i], e.Kind)
	}
}

// Two pollers over the same log see the same qualifying item. Without
// claims both place an exchange order; with claims only one does.
func TestPipeline_ConcurrentPollers(t *testing.T) {
	for _, tt := range []struct {
		name       string
		withClaims bool
		wantOrders int
	}{
		{"without claims", false, 2},
		{"with claims", true, 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.exchange.delay = 100 * time.Millisecond
			id := h.seed(t, domain.Record{
				SettlementReceived: domain.Decimal(d("50.00")),
				BuyFee:             domain.Decimal(d("0.25")),
				NetBuyValue:        domain.Decimal(d("49.75")),
			}, domain.KindSettlementReceived)

			ctx := context.Background()
			var dispatchers []*Dispatcher
			var pools []*Pool
			for i := 0; i < 2; i++ {
				var claims *engine.Claims
				if tt.withClaims {
					claims = engine.NewClaims(h.redis, time.Minute)
				}
				runner := NewRunner(Processors(h.deps), h.store, claims, h.tracker, h.store, nil, h.logger)
				pool := NewPool(1, runner, h.logger)
				pool.Start(ctx)
				pools = append(pools, pool)
				dispatchers = append(dispatchers, NewDispatcher(&BuyProcessor{deps: h.deps}, h.store, claims, h.tracker, pool, h.logger, time.Hour))
			}

			for _, disp := range dispatchers {
				disp.poll(ctx)
			}
			for _, pool := range pools {
				pool.Stop()
			}

			assert.Len(t, h.exchange.orders(), tt.wantOrders)
			assert.NotNil(t, h.find(t, id, domain.KindAssetPurchased))

			open, err := h.store.ListDeadLetters(ctx, "buy", false, 0)
			require.NoError(t, err)
			if tt.withClaims {
				assert.Empty(t, open)
			} else {
				require.Len(t, open, 1, "the losing duplicate is surfaced for reconciliation")
				assert.Equal(t, string(engine.OutcomeFatal), open[0].Outcome)
			}
		})
	}
}

func TestRedemption_MarkerPrecedesTransfer(t *testing.T) {
	h := newHarness(t)
	h.ledger.transferErr = errors.New("gateway timeout")
	id := h.seed(t, domain.Record{SellNetValue: domain.Decimal(d("247.5"))},
		domain.KindSellOrderCreated, domain.KindTokenReceived, domain.KindSellOrderDispatched,
		domain.KindAssetSold, domain.KindBurnInitiated, domain.KindBurnSettled)

	res := (&RedemptionProcessor{deps: h.deps}).Process(context.Background(), *h.find(t, id, domain.KindBurnSettled))

	assert.Equal(t, engine.OutcomeFatal, res.Outcome)
	assert.NotNil(t, h.find(t, id, domain.KindRedemptionInitiated), "marker is recorded before value moves")
	assert.Nil(t, h.find(t, id, domain.KindRedemptionSettled))

	again, err := h.store.Qualifying(context.Background(), domain.StageRedemption)
	require.NoError(t, err)
	assert.Empty(t, again, "a started redemption never qualifies again")
	assert.Len(t, h.ledger.callsFor("transfer"), 1)
}

func TestProcessors_Preconditions(t *testing.T) {
	h := newHarness(t)
	base := domain.Event{Record: domain.Record{
		CorrelationID:    "6f1c2b9e-8d3a-4a57-9a0e-2f6b1d4c8e90",
		UserID:           "user-1",
		SettlementWallet: testSettlementWallet,
		TokenWallet:      testTokenWallet,
	}}

	zero := base
	zero.NetBuyValue = domain.Decimal(d("0"))

	for _, tt := range []struct {
		name string
		p    Processor
		e    domain.Event
	}{
		{"buy without net value", &BuyProcessor{deps: h.deps}, base},
		{"buy with zero net value", &BuyProcessor{deps: h.deps}, zero},
		{"sell without tokens", &SellProcessor{deps: h.deps}, base},
		{"mint without quantity", &MintProcessor{deps: h.deps}, base},
		{"burn without quantity", &BurnProcessor{deps: h.deps}, base},
		{"redemption without net value", &RedemptionProcessor{deps: h.deps}, base},
	} {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.p.Process(context.Background(), tt.e)
			assert.Equal(t, engine.OutcomePrecondition, res.Outcome)
		})
	}

	assert.Empty(t, h.exchange.orders(), "no collaborator call on a failed precondition")
	assert.Empty(t, h.ledger.callsFor("mint"))
}

func TestBuy_NotionalRoundsDownToCents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, net := engine.BuyOrderValues(d("10.015"))
	require.True(t, net.Equal(d("9.965")))
	id := h.seed(t, domain.Record{NetBuyValue: domain.Decimal(net)},
		domain.KindBuyOrderCreated, domain.KindSettlementReceived)

	res := (&BuyProcessor{deps: h.deps}).Process(ctx, *h.find(t, id, domain.KindSettlementReceived))
	require.Equal(t, engine.OutcomeSucceeded, res.Outcome, res.Reason())

	orders := h.exchange.orders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Notional.Decimal.Equal(d("9.96")))

	dispatched := h.find(t, id, domain.KindBuyOrderDispatched)
	require.NotNil(t, dispatched)
	assert.True(t, dispatched.BuyNotional.Decimal.Equal(d("9.96")))
	assert.True(t, dispatched.NetBuyValue.Decimal.Equal(d("9.965")))
}

func TestBuy_SubCentNetIsPrecondition(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, domain.Record{NetBuyValue: domain.Decimal(d("0.004"))},
		domain.KindBuyOrderCreated, domain.KindSettlementReceived)

	res := (&BuyProcessor{deps: h.deps}).Process(context.Background(), *h.find(t, id, domain.KindSettlementReceived))

	assert.Equal(t, engine.OutcomePrecondition, res.Outcome)
	assert.Empty(t, h.exchange.orders())
}

func TestMint_RevertedReceiptIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.ledger.status = 0
	id := h.seed(t, domain.Record{
		MintPrice:    domain.Decimal(d("497.5")),
		MintQuantity: domain.Decimal(d("0.1")),
	}, domain.KindSettlementReceived, domain.KindBuyOrderDispatched, domain.KindAssetPurchased)

	res := (&MintProcessor{deps: h.deps}).Process(context.Background(), *h.find(t, id, domain.KindAssetPurchased))

	assert.Equal(t, engine.OutcomeRetryable, res.Outcome)
	assert.Nil(t, h.find(t, id, domain.KindMintInitiated))
}
