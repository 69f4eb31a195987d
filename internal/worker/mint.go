package worker

import (
	"context"
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/ledger"
)

// MintProcessor issues tokens for purchased asset units to the user's
// token wallet.
type MintProcessor struct {
	deps Deps
}

func (p *MintProcessor) Stage() domain.Stage { return domain.StageMint }

func (p *MintProcessor) Guard() *engine.Guard { return p.deps.LedgerGuard }

func (p *MintProcessor) Process(ctx context.Context, e domain.Event) engine.Result {
	if !positive(e.MintQuantity) {
		return engine.Precondition("mint quantity missing or not positive")
	}
	if e.TokenWallet == "" {
		return engine.Precondition("token wallet missing")
	}
	tag, err := ledger.CorrelationTag(e.CorrelationID)
	if err != nil {
		return engine.Precondition("deriving correlation tag: %v", err)
	}

	var receipt *ledger.Receipt
	err = guarded(ctx, p.deps.LedgerGuard, func(ctx context.Context) error {
		var err error
		receipt, err = p.deps.Ledger.Mint(ctx, e.TokenWallet, e.MintQuantity.Decimal, tag)
		return err
	})
	if err != nil {
		return ledgerFailure("mint", err)
	}
	if !receipt.Succeeded() {
		return engine.Retryable(fmt.Errorf("mint tx %s reverted", receipt.TxHash))
	}

	_, err = p.deps.Log.Append(ctx, engine.CarryForward(e, domain.KindMintInitiated, domain.Record{
		GasMint:          domain.Decimal(receipt.GasCost),
		InitiationTxHash: domain.Ref(receipt.TxHash),
	}))
	if err != nil {
		return engine.Fatal(fmt.Errorf("mint tx %s sent but not recorded: %w", receipt.TxHash, err))
	}
	return engine.Succeeded()
}
