package domain

// Field names an optional record field that can mark a stage as done.
type Field string

const (
	FieldNone      Field = ""
	FieldMintPrice Field = "mint_price"
	FieldBurnPrice Field = "burn_price"
)

// Stage describes one pipeline step: correlation IDs with a Trigger event
// qualify until an event of kind Done, or any event carrying DoneField,
// exists for the same correlation ID.
type Stage struct {
	Name      string
	Trigger   Kind
	Done      Kind
	DoneField Field
}

var (
	StageBuy = Stage{
		Name:      "buy",
		Trigger:   KindSettlementReceived,
		Done:      KindBuyOrderDispatched,
		DoneField: FieldMintPrice,
	}
	StageSell = Stage{
		Name:      "sell",
		Trigger:   KindTokenReceived,
		Done:      KindSellOrderDispatched,
		DoneField: FieldBurnPrice,
	}
	StageMint = Stage{
		Name:    "mint",
		Trigger: KindAssetPurchased,
		Done:    KindMintInitiated,
	}
	StageBurn = Stage{
		Name:    "burn",
		Trigger: KindAssetSold,
		Done:    KindBurnInitiated,
	}
	StageRedemption = Stage{
		Name:    "redemption",
		Trigger: KindBurnSettled,
		Done:    KindRedemptionInitiated,
	}
)

// Recovery stages pick up orders left dispatched without a recorded fill,
// for example after a restart while the buy or sell stage was waiting.
var (
	StageBuyFill = Stage{
		Name:    "buy-fill",
		Trigger: KindBuyOrderDispatched,
		Done:    KindAssetPurchased,
	}
	StageSellFill = Stage{
		Name:    "sell-fill",
		Trigger: KindSellOrderDispatched,
		Done:    KindAssetSold,
	}
)

// Stages returns the five pipeline stages in pipeline order.
func Stages() []Stage {
	return []Stage{StageBuy, StageSell, StageMint, StageBurn, StageRedemption}
}

// RecoveryStages returns the stages that finish interrupted orders.
func RecoveryStages() []Stage {
	return []Stage{StageBuyFill, StageSellFill}
}

// StageByName looks up a pipeline or recovery stage by its name.
func StageByName(name string) (Stage, bool) {
	for _, s := range append(Stages(), RecoveryStages()...) {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}
