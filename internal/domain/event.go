package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingIdentity is returned when an event is appended without its
	// kind or one of the identity fields.
	ErrMissingIdentity = errors.New("event is missing identity fields")

	// ErrDuplicateEvent is returned when a kind is appended twice for the
	// same correlation ID.
	ErrDuplicateEvent = errors.New("event kind already recorded for correlation id")
)

// Kind is the persisted event type. The wire values match the events table
// of the deployed system and must not change.
type Kind string

const (
	KindBuyOrderCreated     Kind = "BUY_ORDER_CREATED"
	KindSettlementReceived  Kind = "USDC_RECEIVED"
	KindBuyOrderDispatched  Kind = "SPY_BUY_ORDER_CREATED"
	KindAssetPurchased      Kind = "SPY_ETF_PURCHASED"
	KindMintInitiated       Kind = "DSPY_TOKEN_MINTING_INITIATED"
	KindMintSettled         Kind = "BUY_ORDER_FILLED_TOKEN_MINTED"
	KindSellOrderCreated    Kind = "SELL_ORDER_CREATED"
	KindTokenReceived       Kind = "DSPY_RECEIVED"
	KindSellOrderDispatched Kind = "SPY_SELL_ORDER_CREATED"
	KindAssetSold           Kind = "SPY_ETF_SOLD"
	KindBurnInitiated       Kind = "DSPY_TOKEN_BURNING_INITIATED"
	KindBurnSettled         Kind = "DSPY_TOKEN_BURNED"
	KindRedemptionInitiated Kind = "REDEMPTION_USDC_TRANSFER_INITIATED"
	KindRedemptionSettled   Kind = "SELL_ORDER_FILLED_REDEMPTION_USDC_SENT"
)

// BuyPath is the only valid order of kinds for a buy workflow.
var BuyPath = []Kind{
	KindBuyOrderCreated,
	KindSettlementReceived,
	KindBuyOrderDispatched,
	KindAssetPurchased,
	KindMintInitiated,
	KindMintSettled,
}

// SellPath is the only valid order of kinds for a sell and redeem workflow.
var SellPath = []Kind{
	KindSellOrderCreated,
	KindTokenReceived,
	KindSellOrderDispatched,
	KindAssetSold,
	KindBurnInitiated,
	KindBurnSettled,
	KindRedemptionInitiated,
	KindRedemptionSettled,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range BuyPath {
		if k == known {
			return true
		}
	}
	for _, known := range SellPath {
		if k == known {
			return true
		}
	}
	return false
}

// Record holds every field carried between stages of one workflow.
// Optional values are absent until the stage that produces them appends;
// absent is never the same as zero.
type Record struct {
	CorrelationID    string `json:"correlation_id"`
	UserID           string `json:"user_id"`
	SettlementWallet string `json:"settlement_wallet"`
	TokenWallet      string `json:"token_wallet"`

	OrderAmount        decimal.NullDecimal `json:"order_amount"`
	SettlementReceived decimal.NullDecimal `json:"settlement_received"`
	BuyFee             decimal.NullDecimal `json:"buy_fee"`
	NetBuyValue        decimal.NullDecimal `json:"net_buy_value"`
	BuyNotional        decimal.NullDecimal `json:"buy_notional"`

	TokenReceived  decimal.NullDecimal `json:"token_received"`
	SellGrossValue decimal.NullDecimal `json:"sell_gross_value"`
	SellFee        decimal.NullDecimal `json:"sell_fee"`
	SellNetValue   decimal.NullDecimal `json:"sell_net_value"`
	RedemptionSent decimal.NullDecimal `json:"redemption_sent"`

	GasSettlementTransfer decimal.NullDecimal `json:"gas_settlement_transfer"`
	GasMint               decimal.NullDecimal `json:"gas_mint"`
	GasBurn               decimal.NullDecimal `json:"gas_burn"`

	MintPrice    decimal.NullDecimal `json:"mint_price"`
	MintQuantity decimal.NullDecimal `json:"mint_quantity"`
	BurnPrice    decimal.NullDecimal `json:"burn_price"`
	BurnQuantity decimal.NullDecimal `json:"burn_quantity"`

	BuyOrderRef      *string `json:"buy_order_ref,omitempty"`
	SellOrderRef     *string `json:"sell_order_ref,omitempty"`
	DepositTxHash    *string `json:"deposit_tx_hash,omitempty"`
	InitiationTxHash *string `json:"initiation_tx_hash,omitempty"`
	SettlementTxHash *string `json:"settlement_tx_hash,omitempty"`
}

// Overlay returns a copy of r with every field that is set in fresh
// replacing the value in r. Unset fields in fresh never clear r.
func (r Record) Overlay(fresh Record) Record {
	out := r

	out.CorrelationID = pickString(out.CorrelationID, fresh.CorrelationID)
	out.UserID = pickString(out.UserID, fresh.UserID)
	out.SettlementWallet = pickString(out.SettlementWallet, fresh.SettlementWallet)
	out.TokenWallet = pickString(out.TokenWallet, fresh.TokenWallet)

	out.OrderAmount = pickDecimal(out.OrderAmount, fresh.OrderAmount)
	out.SettlementReceived = pickDecimal(out.SettlementReceived, fresh.SettlementReceived)
	out.BuyFee = pickDecimal(out.BuyFee, fresh.BuyFee)
	out.NetBuyValue = pickDecimal(out.NetBuyValue, fresh.NetBuyValue)
	out.BuyNotional = pickDecimal(out.BuyNotional, fresh.BuyNotional)

	out.TokenReceived = pickDecimal(out.TokenReceived, fresh.TokenReceived)
	out.SellGrossValue = pickDecimal(out.SellGrossValue, fresh.SellGrossValue)
	out.SellFee = pickDecimal(out.SellFee, fresh.SellFee)
	out.SellNetValue = pickDecimal(out.SellNetValue, fresh.SellNetValue)
	out.RedemptionSent = pickDecimal(out.RedemptionSent, fresh.RedemptionSent)

	out.GasSettlementTransfer = pickDecimal(out.GasSettlementTransfer, fresh.GasSettlementTransfer)
	out.GasMint = pickDecimal(out.GasMint, fresh.GasMint)
	out.GasBurn = pickDecimal(out.GasBurn, fresh.GasBurn)

	out.MintPrice = pickDecimal(out.MintPrice, fresh.MintPrice)
	out.MintQuantity = pickDecimal(out.MintQuantity, fresh.MintQuantity)
	out.BurnPrice = pickDecimal(out.BurnPrice, fresh.BurnPrice)
	out.BurnQuantity = pickDecimal(out.BurnQuantity, fresh.BurnQuantity)

	out.BuyOrderRef = pickRef(out.BuyOrderRef, fresh.BuyOrderRef)
	out.SellOrderRef = pickRef(out.SellOrderRef, fresh.SellOrderRef)
	out.DepositTxHash = pickRef(out.DepositTxHash, fresh.DepositTxHash)
	out.InitiationTxHash = pickRef(out.InitiationTxHash, fresh.InitiationTxHash)
	out.SettlementTxHash = pickRef(out.SettlementTxHash, fresh.SettlementTxHash)

	return out
}

// Has reports whether the optional field f carries a value.
func (r Record) Has(f Field) bool {
	switch f {
	case FieldMintPrice:
		return r.MintPrice.Valid
	case FieldBurnPrice:
		return r.BurnPrice.Valid
	default:
		return false
	}
}

// Event is one immutable fact in the log.
type Event struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      Kind      `json:"kind"`
	Record
}

// Validate checks the fields every append requires.
func (e Event) Validate() error {
	if !e.Kind.Valid() || e.CorrelationID == "" || e.UserID == "" ||
		e.SettlementWallet == "" || e.TokenWallet == "" {
		return ErrMissingIdentity
	}
	return nil
}

// Decimal wraps d as a present optional value.
func Decimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Ref returns a pointer to s for the optional reference fields.
func Ref(s string) *string {
	return &s
}

func pickString(current, fresh string) string {
	if fresh != "" {
		return fresh
	}
	return current
}

func pickDecimal(current, fresh decimal.NullDecimal) decimal.NullDecimal {
	if fresh.Valid {
		return fresh
	}
	return current
}

func pickRef(current, fresh *string) *string {
	if fresh != nil {
		v := *fresh
		return &v
	}
	if current != nil {
		v := *current
		return &v
	}
	return nil
}
