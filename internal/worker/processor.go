package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
	"github.com/Priya8975/token-settlement-orchestrator/internal/ledger"
	"github.com/shopspring/decimal"
)

// Processor performs one stage for one qualifying event.
type Processor interface {
	Stage() domain.Stage
	// Guard is the collaborator the stage calls first. The dispatcher skips
	// polls while its circuit is open.
	Guard() *engine.Guard
	Process(ctx context.Context, e domain.Event) engine.Result
}

// Exchange buys and sells the underlying asset.
type Exchange interface {
	PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (string, error)
	FilledOrder(ctx context.Context, orderID string) (*exchange.Fill, error)
}

// Ledger mints and burns tokens and moves the settlement currency.
type Ledger interface {
	Mint(ctx context.Context, to string, amount decimal.Decimal, tag ledger.Tag) (*ledger.Receipt, error)
	Burn(ctx context.Context, from string, amount decimal.Decimal, tag ledger.Tag) (*ledger.Receipt, error)
	TransferSettlement(ctx context.Context, to string, amount decimal.Decimal) (*ledger.Receipt, error)
}

// Deps is everything the stage processors share.
type Deps struct {
	Log           engine.EventLog
	Exchange      Exchange
	Ledger        Ledger
	ExchangeGuard *engine.Guard
	LedgerGuard   *engine.Guard
	Symbol        string
	AdminWallet   string
	FillTimeout   time.Duration
	FillPoll      time.Duration
	Logger        *slog.Logger
}

// Scheduler is implemented by processors whose items are ready only from
// a given time on.
type Scheduler interface {
	NotBefore(e domain.Event) time.Time
}

// Processors builds the five stage processors and the fill recovery
// processors.
func Processors(deps Deps) []Processor {
	return []Processor{
		&BuyProcessor{deps: deps},
		&SellProcessor{deps: deps},
		&MintProcessor{deps: deps},
		&BurnProcessor{deps: deps},
		&RedemptionProcessor{deps: deps},
		&FillProcessor{deps: deps, stage: domain.StageBuyFill, side: exchange.SideBuy},
		&FillProcessor{deps: deps, stage: domain.StageSellFill, side: exchange.SideSell},
	}
}

func positive(v decimal.NullDecimal) bool {
	return v.Valid && v.Decimal.IsPositive()
}

// guarded runs fn through g, or directly when g is nil.
func guarded(ctx context.Context, g *engine.Guard, fn func(context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	return g.Do(ctx, fn)
}

// admit reserves one call through g ahead of a side effect that must be
// recorded first. A nil guard always admits.
func admit(ctx context.Context, g *engine.Guard) error {
	if g == nil {
		return nil
	}
	return g.Admit(ctx)
}

// call runs fn through an already admitted g, or directly when g is nil.
func call(ctx context.Context, g *engine.Guard, fn func(context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	return g.Call(ctx, fn)
}

// ledgerFailure classifies a failed mint or burn. A request that may have
// reached the gateway is never sent again.
func ledgerFailure(op string, err error) engine.Result {
	if errors.Is(err, ledger.ErrOutcomeUnknown) {
		return engine.Fatal(fmt.Errorf("%s may have been submitted: %w", op, err))
	}
	return engine.Retryable(err)
}

// recordFill appends the fill of a dispatched order. A fill that another
// worker already recorded counts as recorded.
func (d Deps) recordFill(ctx context.Context, side exchange.Side, dispatched domain.Event, fill *exchange.Fill) error {
	kind := domain.KindAssetPurchased
	fresh := domain.Record{
		MintPrice:    domain.Decimal(fill.FilledAvgPrice),
		MintQuantity: domain.Decimal(fill.FilledQuantity),
	}
	if side == exchange.SideSell {
		gross, fee, net := engine.SellOrderValues(fill.FilledQuantity, fill.FilledAvgPrice)
		kind = domain.KindAssetSold
		fresh = domain.Record{
			BurnPrice:      domain.Decimal(fill.FilledAvgPrice),
			BurnQuantity:   domain.Decimal(fill.FilledQuantity),
			SellGrossValue: domain.Decimal(gross),
			SellFee:        domain.Decimal(fee),
			SellNetValue:   domain.Decimal(net),
		}
	}

	_, err := d.Log.Append(ctx, engine.CarryForward(dispatched, kind, fresh))
	if errors.Is(err, domain.ErrDuplicateEvent) {
		return nil
	}
	return err
}

// waitForFill polls the exchange until the order fills, with doubling
// pauses, and gives up after the fill timeout.
func (d Deps) waitForFill(ctx context.Context, orderID string) (*exchange.Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, d.FillTimeout)
	defer cancel()

	pause := d.FillPoll
	if pause <= 0 {
		pause = 500 * time.Millisecond
	}
	const maxPause = 10 * time.Second

	for {
		var fill *exchange.Fill
		err := guarded(ctx, d.ExchangeGuard, func(ctx context.Context) error {
			var err error
			fill, err = d.Exchange.FilledOrder(ctx, orderID)
			return err
		})
		switch {
		case errors.Is(err, exchange.ErrOrderRejected):
			return nil, err
		case err != nil:
			d.Logger.Warn("checking order fill failed", "order_id", orderID, "error", err)
		case fill != nil:
			return fill, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("order %s not filled within %s: %w", orderID, d.FillTimeout, ctx.Err())
		case <-time.After(pause):
		}
		if pause *= 2; pause > maxPause {
			pause = maxPause
		}
	}
}
