package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// TokenDecimals is the precision of the tokenized asset.
	TokenDecimals int32 = 9
	// SettlementDecimals is the precision of the settlement stablecoin.
	SettlementDecimals int32 = 6
)

// ToBaseUnits converts a display amount into integer base units, rounding
// half to even at the unit.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("negative amount %s", amount)
	}
	return amount.Shift(decimals).RoundBank(0).String(), nil
}

// FromBaseUnits converts integer base units back into a display amount.
func FromBaseUnits(units string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(units)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing base units %q: %w", units, err)
	}
	return d.Shift(-decimals), nil
}
