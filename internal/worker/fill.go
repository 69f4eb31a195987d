package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
)

const fillRecoveryGrace = 30 * time.Second

// FillProcessor finishes an order that was placed but whose fill was never
// recorded. Each attempt checks the order once.
type FillProcessor struct {
	deps  Deps
	stage domain.Stage
	side  exchange.Side
}

func (p *FillProcessor) Stage() domain.Stage { return p.stage }

func (p *FillProcessor) Guard() *engine.Guard { return p.deps.ExchangeGuard }

// NotBefore leaves an order to the stage that placed it until that stage
// has stopped waiting for the fill.
func (p *FillProcessor) NotBefore(e domain.Event) time.Time {
	return e.CreatedAt.Add(p.deps.FillTimeout + fillRecoveryGrace)
}

func (p *FillProcessor) Process(ctx context.Context, e domain.Event) engine.Result {
	ref := e.BuyOrderRef
	if p.side == exchange.SideSell {
		ref = e.SellOrderRef
	}
	if ref == nil || *ref == "" {
		return engine.Precondition("%s order reference missing", p.side)
	}
	orderID := *ref

	var fill *exchange.Fill
	err := guarded(ctx, p.deps.ExchangeGuard, func(ctx context.Context) error {
		var err error
		fill, err = p.deps.Exchange.FilledOrder(ctx, orderID)
		return err
	})
	switch {
	case errors.Is(err, exchange.ErrOrderRejected):
		return engine.Fatal(err)
	case err != nil:
		return engine.Retryable(err)
	case fill == nil:
		return engine.Precondition("%s order %s not filled yet", p.side, orderID)
	}

	if err := p.deps.recordFill(ctx, p.side, e, fill); err != nil {
		return engine.Fatal(fmt.Errorf("%s order %s filled but not recorded: %w", p.side, orderID, err))
	}
	p.deps.Logger.Info("recovered order fill", "correlation_id", e.CorrelationID, "order_id", orderID)
	return engine.Succeeded()
}
