package engine

import "github.com/shopspring/decimal"

var (
	buyFeeRate  = decimal.RequireFromString("0.005")
	sellFeeRate = decimal.RequireFromString("0.01")
)

// BuyOrderValues splits a settlement deposit into the platform fee and the
// value sent to the exchange. The fee is rounded half to even at 2 places.
func BuyOrderValues(received decimal.Decimal) (fee, net decimal.Decimal) {
	fee = received.Mul(buyFeeRate).RoundBank(2)
	return fee, received.Sub(fee)
}

// SellOrderValues prices a filled sell order. Gross is rounded half up at 6
// places and the fee is taken from the rounded gross.
func SellOrderValues(quantity, price decimal.Decimal) (gross, fee, net decimal.Decimal) {
	gross = quantity.Mul(price).Round(6)
	fee = gross.Mul(sellFeeRate)
	return gross, fee, gross.Sub(fee)
}

// EstimateBuyQuantity approximates the asset units amount of settlement
// currency buys at the quoted ask, to 9 places.
func EstimateBuyQuantity(amount, ask decimal.Decimal) decimal.Decimal {
	return amount.DivRound(ask, 9)
}

// EstimateSellValue approximates the settlement value of quantity asset
// units at the quoted ask, to 6 places.
func EstimateSellValue(quantity, ask decimal.Decimal) decimal.Decimal {
	return quantity.Mul(ask).Round(6)
}
