package dsc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// capPayout bounds base+bonus by the collateral the borrower actually holds.
// The bonus is reduced first.
func capPayout(base, bonus, available *big.Int) (*big.Int, *big.Int) {
	total := new(big.Int).Add(base, bonus)
	if total.Cmp(available) <= 0 {
		return total, new(big.Int).Set(bonus)
	}
	if base.Cmp(available) <= 0 {
		return new(big.Int).Set(available), new(big.Int).Sub(available, base)
	}
	return new(big.Int).Set(available), new(big.Int)
}

// Liquidate covers debtToCover of borrower's debt with DSC supplied by
// liquidator and pays the liquidator the equivalent collateral plus a bonus.
// The borrower must be below the minimum health factor and the liquidation
// must strictly improve it.
func (e *Engine) Liquidate(ctx context.Context, liquidator, collateral, borrower common.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.execute(ctx, "liquidate", liquidator, false, func(l *ledger) error {
		if err := validAmount(debtToCover); err != nil {
			return err
		}
		if err := e.allowed(collateral); err != nil {
			return err
		}
		starting, err := l.healthFactor(borrower)
		if err != nil {
			return err
		}
		if starting.Cmp(minHealthFactor) >= 0 {
			return fmt.Errorf("%w: %s at %s", ErrHealthFactorOk, borrower.Hex(), starting)
		}
		pos, err := l.position(borrower)
		if err != nil {
			return err
		}
		if debtToCover.Cmp(pos.Debt()) > 0 {
			return fmt.Errorf("%w: %s owes %s, cover %s", ErrDebtToCoverExceedsDebt, borrower.Hex(), pos.Debt(), debtToCover)
		}

		price, err := l.price(collateral)
		if err != nil {
			return err
		}
		base := tokenAmountFromUsd(price, debtToCover)
		bonus := new(big.Int).Mul(base, liquidationBonus)
		bonus.Quo(bonus, liquidationPrecision)
		payout, bonus := capPayout(base, bonus, pos.CollateralOf(collateral))

		if payout.Sign() > 0 {
			if err := e.redeemCollateral(l, collateral, payout, borrower, liquidator); err != nil {
				return err
			}
		}
		if err := e.burnDsc(l, debtToCover, borrower, liquidator); err != nil {
			return err
		}

		ending, err := l.healthFactor(borrower)
		if err != nil {
			return err
		}
		if ending.Cmp(starting) <= 0 {
			return fmt.Errorf("%w: %s from %s to %s", ErrHealthFactorNotImproved, borrower.Hex(), starting, ending)
		}
		if err := l.assertHealthy(liquidator); err != nil {
			return err
		}
		result = &LiquidationResult{
			Borrower:             borrower,
			Liquidator:           liquidator,
			Collateral:           collateral,
			DebtCovered:          new(big.Int).Set(debtToCover),
			CollateralPaid:       payout,
			BonusPaid:            bonus,
			StartingHealthFactor: starting,
			EndingHealthFactor:   ending,
		}
		l.record(LiquidatedEvent(result))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("position liquidated",
		"borrower", borrower.Hex(),
		"liquidator", liquidator.Hex(),
		"collateral", collateral.Hex(),
		"debtCovered", result.DebtCovered.String(),
		"collateralPaid", result.CollateralPaid.String(),
		"endingHealthFactor", result.EndingHealthFactor.String())
	if e.metrics != nil {
		e.metrics.RecordLiquidation(collateral.Hex(), result.DebtCovered, result.CollateralPaid)
	}
	return result, nil
}
