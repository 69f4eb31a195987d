package worker

import (
	"context"
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/ledger"
)

// BurnProcessor destroys the tokens the user sent in once the backing
// asset has been sold. The tokens sit in the admin wallet at this point.
type BurnProcessor struct {
	deps Deps
}

func (p *BurnProcessor) Stage() domain.Stage { return domain.StageBurn }

func (p *BurnProcessor) Guard() *engine.Guard { return p.deps.LedgerGuard }

func (p *BurnProcessor) Process(ctx context.Context, e domain.Event) engine.Result {
	if !positive(e.BurnQuantity) {
		return engine.Precondition("burn quantity missing or not positive")
	}
	if !positive(e.TokenReceived) {
		return engine.Precondition("token received missing or not positive")
	}
	tag, err := ledger.CorrelationTag(e.CorrelationID)
	if err != nil {
		return engine.Precondition("deriving correlation tag: %v", err)
	}

	var receipt *ledger.Receipt
	err = guarded(ctx, p.deps.LedgerGuard, func(ctx context.Context) error {
		var err error
		receipt, err = p.deps.Ledger.Burn(ctx, p.deps.AdminWallet, e.TokenReceived.Decimal, tag)
		return err
	})
	if err != nil {
		return ledgerFailure("burn", err)
	}
	if !receipt.Succeeded() {
		return engine.Retryable(fmt.Errorf("burn tx %s reverted", receipt.TxHash))
	}

	_, err = p.deps.Log.Append(ctx, engine.CarryForward(e, domain.KindBurnInitiated, domain.Record{
		GasBurn:          domain.Decimal(receipt.GasCost),
		InitiationTxHash: domain.Ref(receipt.TxHash),
	}))
	if err != nil {
		return engine.Fatal(fmt.Errorf("burn tx %s sent but not recorded: %w", receipt.TxHash, err))
	}
	return engine.Succeeded()
}
