package worker

import (
	"context"
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/ledger"
)

// RedemptionProcessor pays the sell proceeds out to the user's settlement
// wallet. The ledger guard admits the transfer before the initiated marker
// is appended, and the marker is appended before any value moves, so a
// transfer is attempted at most once per workflow.
type RedemptionProcessor struct {
	deps Deps
}

func (p *RedemptionProcessor) Stage() domain.Stage { return domain.StageRedemption }

func (p *RedemptionProcessor) Guard() *engine.Guard { return p.deps.LedgerGuard }

func (p *RedemptionProcessor) Process(ctx context.Context, e domain.Event) engine.Result {
	if !positive(e.SellNetValue) {
		return engine.Precondition("sell net value missing or not positive")
	}
	if e.SettlementWallet == "" {
		return engine.Precondition("settlement wallet missing")
	}
	amount := e.SellNetValue.Decimal

	if err := admit(ctx, p.deps.LedgerGuard); err != nil {
		return engine.Retryable(err)
	}

	initiated, err := p.deps.Log.Append(ctx, engine.CarryForward(e, domain.KindRedemptionInitiated, domain.Record{}))
	if err != nil {
		return engine.Retryable(fmt.Errorf("recording redemption start: %w", err))
	}

	var receipt *ledger.Receipt
	err = call(ctx, p.deps.LedgerGuard, func(ctx context.Context) error {
		var err error
		receipt, err = p.deps.Ledger.TransferSettlement(ctx, e.SettlementWallet, amount)
		return err
	})
	if err != nil {
		return engine.Fatal(fmt.Errorf("redemption transfer of %s failed after start was recorded: %w", amount, err))
	}
	if !receipt.Succeeded() {
		return engine.Fatal(fmt.Errorf("redemption tx %s reverted after start was recorded", receipt.TxHash))
	}

	_, err = p.deps.Log.Append(ctx, engine.CarryForward(*initiated, domain.KindRedemptionSettled, domain.Record{
		RedemptionSent:        domain.Decimal(amount),
		GasSettlementTransfer: domain.Decimal(receipt.GasCost),
		SettlementTxHash:      domain.Ref(receipt.TxHash),
	}))
	if err != nil {
		return engine.Fatal(fmt.Errorf("redemption tx %s sent but not recorded: %w", receipt.TxHash, err))
	}
	return engine.Succeeded()
}
