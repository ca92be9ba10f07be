package dsc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablecore/core/events"
	"stablecore/core/types"
)

const (
	// EventTypeCollateralDeposited is emitted when collateral enters custody.
	EventTypeCollateralDeposited = "dsc.collateral.deposited"
	// EventTypeCollateralRedeemed is emitted when collateral leaves custody,
	// either to its owner or to a liquidator.
	EventTypeCollateralRedeemed = "dsc.collateral.redeemed"
	// EventTypeDscMinted is emitted when debt is created against collateral.
	EventTypeDscMinted = "dsc.minted"
	// EventTypeDscBurned is emitted when debt is repaid and the DSC destroyed.
	EventTypeDscBurned = "dsc.burned"
	// EventTypeLiquidated is emitted once per successful liquidation.
	EventTypeLiquidated = "dsc.liquidated"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// CollateralDepositedEvent records collateral credited to user.
func CollateralDepositedEvent(user, token common.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeCollateralDeposited,
		Attributes: map[string]string{
			"user":   user.Hex(),
			"token":  token.Hex(),
			"amount": amountString(amount),
		},
	}
}

// CollateralRedeemedEvent records collateral debited from redeemedFrom and
// paid to redeemedTo.
func CollateralRedeemedEvent(redeemedFrom, redeemedTo, token common.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeCollateralRedeemed,
		Attributes: map[string]string{
			"redeemedFrom": redeemedFrom.Hex(),
			"redeemedTo":   redeemedTo.Hex(),
			"token":        token.Hex(),
			"amount":       amountString(amount),
		},
	}
}

// DscMintedEvent records debt minted by user.
func DscMintedEvent(user common.Address, amount, totalDebt *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDscMinted,
		Attributes: map[string]string{
			"user":      user.Hex(),
			"amount":    amountString(amount),
			"totalDebt": amountString(totalDebt),
		},
	}
}

// DscBurnedEvent records debt of onBehalfOf repaid with DSC supplied by payer.
func DscBurnedEvent(onBehalfOf, payer common.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDscBurned,
		Attributes: map[string]string{
			"onBehalfOf": onBehalfOf.Hex(),
			"payer":      payer.Hex(),
			"amount":     amountString(amount),
		},
	}
}

// LiquidatedEvent summarises a liquidation.
func LiquidatedEvent(res *LiquidationResult) *types.Event {
	if res == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeLiquidated,
		Attributes: map[string]string{
			"borrower":             res.Borrower.Hex(),
			"liquidator":           res.Liquidator.Hex(),
			"collateral":           res.Collateral.Hex(),
			"debtCovered":          amountString(res.DebtCovered),
			"collateralPaid":       amountString(res.CollateralPaid),
			"bonusPaid":            amountString(res.BonusPaid),
			"startingHealthFactor": amountString(res.StartingHealthFactor),
			"endingHealthFactor":   amountString(res.EndingHealthFactor),
		},
	}
}
