package dsc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CalculateHealthFactor returns the ratio of threshold-adjusted collateral
// value to debt with 18 decimals. Positions without debt report the maximum
// uint256 value.
func CalculateHealthFactor(totalDscMinted, collateralValueInUsd *big.Int) *big.Int {
	if totalDscMinted == nil || totalDscMinted.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	collateral := collateralValueInUsd
	if collateral == nil {
		collateral = new(big.Int)
	}
	adjusted := new(big.Int).Mul(collateral, liquidationThreshold)
	adjusted.Quo(adjusted, liquidationPrecision)
	adjusted.Mul(adjusted, precision)
	return adjusted.Quo(adjusted, totalDscMinted)
}

// accountValue returns the staged debt of user and the USD value of their
// collateral. Assets with a zero balance are not priced.
func (l *ledger) accountValue(user common.Address) (*big.Int, *big.Int, error) {
	pos, err := l.position(user)
	if err != nil {
		return nil, nil, err
	}
	total, err := l.collateralValue(pos)
	if err != nil {
		return nil, nil, err
	}
	return pos.Debt(), total, nil
}

func (l *ledger) collateralValue(pos *Position) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range l.engine.assets {
		amount := pos.CollateralOf(asset)
		if amount.Sign() == 0 {
			continue
		}
		price, err := l.price(asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, usdValue(price, amount))
	}
	return total, nil
}

// healthFactor skips pricing for positions without debt.
func (l *ledger) healthFactor(user common.Address) (*big.Int, error) {
	pos, err := l.position(user)
	if err != nil {
		return nil, err
	}
	if pos.Debt().Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	debt, collateral, err := l.accountValue(user)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(debt, collateral), nil
}

func (l *ledger) assertHealthy(user common.Address) error {
	hf, err := l.healthFactor(user)
	if err != nil {
		return err
	}
	if hf.Cmp(minHealthFactor) < 0 {
		return &BreaksHealthFactorError{User: user, HealthFactor: hf}
	}
	return nil
}
