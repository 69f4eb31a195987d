package worker

import (
	"context"
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
)

// SellProcessor sells the asset backing the received tokens and prices the
// redemption.
type SellProcessor struct {
	deps Deps
}

func (p *SellProcessor) Stage() domain.Stage { return domain.StageSell }

func (p *SellProcessor) Guard() *engine.Guard { return p.deps.ExchangeGuard }

func (p *SellProcessor) Process(ctx context.Context, e domain.Event) engine.Result {
	if !positive(e.TokenReceived) {
		return engine.Precondition("token received missing or not positive")
	}

	var orderID string
	err := guarded(ctx, p.deps.ExchangeGuard, func(ctx context.Context) error {
		var err error
		orderID, err = p.deps.Exchange.PlaceMarketOrder(ctx, exchange.OrderRequest{
			Symbol:        p.deps.Symbol,
			Side:          exchange.SideSell,
			Quantity:      e.TokenReceived,
			ClientOrderID: e.CorrelationID,
		})
		return err
	})
	if err != nil {
		return engine.Retryable(err)
	}

	dispatched, err := p.deps.Log.Append(ctx, engine.CarryForward(e, domain.KindSellOrderDispatched, domain.Record{
		SellOrderRef: domain.Ref(orderID),
	}))
	if err != nil {
		return engine.Fatal(fmt.Errorf("sell order %s placed but not recorded: %w", orderID, err))
	}

	fill, err := p.deps.waitForFill(ctx, orderID)
	if err != nil {
		return engine.Fatal(err)
	}

	if err := p.deps.recordFill(ctx, exchange.SideSell, *dispatched, fill); err != nil {
		return engine.Fatal(fmt.Errorf("sell order %s filled but not recorded: %w", orderID, err))
	}
	return engine.Succeeded()
}
