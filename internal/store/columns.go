package store

import (
	"fmt"
	"strings"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
)

// recordColumns lists the event columns written on append, in the order
// returned by insertArgs and recordTargets.
var recordColumns = []string{
	"kind", "correlation_id", "user_id", "settlement_wallet", "token_wallet",
	"order_amount", "settlement_received", "buy_fee", "net_buy_value", "buy_notional",
	"token_received", "sell_gross_value", "sell_fee", "sell_net_value", "redemption_sent",
	"gas_settlement_transfer", "gas_mint", "gas_burn",
	"mint_price", "mint_quantity", "burn_price", "burn_quantity",
	"buy_order_ref", "sell_order_ref", "deposit_tx_hash", "initiation_tx_hash", "settlement_tx_hash",
}

var (
	eventColumns      = "id, created_at, " + strings.Join(recordColumns, ", ")
	insertColumns     = strings.Join(recordColumns, ", ")
	insertPlaceholder = placeholders(1, len(recordColumns))
)

// fieldColumns whitelists the optional fields a stage may use as its done
// marker. Anything else never reaches SQL.
var fieldColumns = map[domain.Field]string{
	domain.FieldMintPrice: "mint_price",
	domain.FieldBurnPrice: "burn_price",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func insertArgs(e domain.Event) []any {
	return []any{
		string(e.Kind), e.CorrelationID, e.UserID, e.SettlementWallet, e.TokenWallet,
		e.OrderAmount, e.SettlementReceived, e.BuyFee, e.NetBuyValue, e.BuyNotional,
		e.TokenReceived, e.SellGrossValue, e.SellFee, e.SellNetValue, e.RedemptionSent,
		e.GasSettlementTransfer, e.GasMint, e.GasBurn,
		e.MintPrice, e.MintQuantity, e.BurnPrice, e.BurnQuantity,
		e.BuyOrderRef, e.SellOrderRef, e.DepositTxHash, e.InitiationTxHash, e.SettlementTxHash,
	}
}

func recordTargets(e *domain.Event) []any {
	return []any{
		&e.Kind, &e.CorrelationID, &e.UserID, &e.SettlementWallet, &e.TokenWallet,
		&e.OrderAmount, &e.SettlementReceived, &e.BuyFee, &e.NetBuyValue, &e.BuyNotional,
		&e.TokenReceived, &e.SellGrossValue, &e.SellFee, &e.SellNetValue, &e.RedemptionSent,
		&e.GasSettlementTransfer, &e.GasMint, &e.GasBurn,
		&e.MintPrice, &e.MintQuantity, &e.BurnPrice, &e.BurnQuantity,
		&e.BuyOrderRef, &e.SellOrderRef, &e.DepositTxHash, &e.InitiationTxHash, &e.SettlementTxHash,
	}
}

// scanEvent reads one row selected with eventColumns. createdAt receives the
// second column so each backend can decode its own timestamp encoding.
func scanEvent(row rowScanner, createdAt any, e *domain.Event) error {
	dest := append([]any{&e.ID, createdAt}, recordTargets(e)...)
	return row.Scan(dest...)
}

// qualifyingQuery selects events of the stage trigger kind whose workflow
// has no event marking the stage done.
func qualifyingQuery(stage domain.Stage) (string, []any, error) {
	if !stage.Trigger.Valid() || !stage.Done.Valid() {
		return "", nil, fmt.Errorf("stage %q has unknown kinds", stage.Name)
	}

	done := "d.kind = $2"
	if stage.DoneField != domain.FieldNone {
		col, ok := fieldColumns[stage.DoneField]
		if !ok {
			return "", nil, fmt.Errorf("stage %q uses unknown done field %q", stage.Name, stage.DoneField)
		}
		done = fmt.Sprintf("(d.kind = $2 OR d.%s IS NOT NULL)", col)
	}

	query := `SELECT ` + eventColumns + ` FROM events e
		WHERE e.kind = $1
		  AND NOT EXISTS (
			SELECT 1 FROM events d
			WHERE d.correlation_id = e.correlation_id AND ` + done + `
		  )
		ORDER BY e.created_at, e.id`

	return query, []any{string(stage.Trigger), string(stage.Done)}, nil
}
