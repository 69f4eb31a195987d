package worker

import (
	"context"
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
)

// BuyProcessor spends the net deposit on the asset and records the fill
// price and quantity the mint stage needs.
type BuyProcessor struct {
	deps Deps
}

func (p *BuyProcessor) Stage() domain.Stage { return domain.StageBuy }

func (p *BuyProcessor) Guard() *engine.Guard { return p.deps.ExchangeGuard }

func (p *BuyProcessor) Process(ctx context.Context, e domain.Event) engine.Result {
	if !positive(e.NetBuyValue) {
		return engine.Precondition("net buy value missing or not positive")
	}
	// Whole cents, rounded down so the order never exceeds the net.
	notional := e.NetBuyValue.Decimal.Truncate(2)
	if !notional.IsPositive() {
		return engine.Precondition("net buy value %s is below one cent", e.NetBuyValue.Decimal)
	}

	var orderID string
	err := guarded(ctx, p.deps.ExchangeGuard, func(ctx context.Context) error {
		var err error
		orderID, err = p.deps.Exchange.PlaceMarketOrder(ctx, exchange.OrderRequest{
			Symbol:        p.deps.Symbol,
			Side:          exchange.SideBuy,
			Notional:      domain.Decimal(notional),
			ClientOrderID: e.CorrelationID,
		})
		return err
	})
	if err != nil {
		return engine.Retryable(err)
	}

	dispatched, err := p.deps.Log.Append(ctx, engine.CarryForward(e, domain.KindBuyOrderDispatched, domain.Record{
		BuyOrderRef: domain.Ref(orderID),
		BuyNotional: domain.Decimal(notional),
	}))
	if err != nil {
		return engine.Fatal(fmt.Errorf("buy order %s placed but not recorded: %w", orderID, err))
	}

	fill, err := p.deps.waitForFill(ctx, orderID)
	if err != nil {
		return engine.Fatal(err)
	}

	if err := p.deps.recordFill(ctx, exchange.SideBuy, *dispatched, fill); err != nil {
		return engine.Fatal(fmt.Errorf("buy order %s filled but not recorded: %w", orderID, err))
	}
	return engine.Succeeded()
}
