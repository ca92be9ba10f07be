package dsc

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) reader(ctx context.Context) (*ledger, error) {
	if e == nil {
		return nil, ErrNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return newLedger(ctx, e), nil
}

// GetAccountInformation returns the debt and collateral value of user.
func (e *Engine) GetAccountInformation(ctx context.Context, user common.Address) (AccountInformation, error) {
	l, err := e.reader(ctx)
	if err != nil {
		return AccountInformation{}, err
	}
	debt, collateral, err := l.accountValue(user)
	if err != nil {
		return AccountInformation{}, err
	}
	return AccountInformation{TotalDscMinted: debt, CollateralValueInUsd: collateral}, nil
}

// GetHealthFactor returns the current health factor of user.
func (e *Engine) GetHealthFactor(ctx context.Context, user common.Address) (*big.Int, error) {
	l, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	return l.healthFactor(user)
}

// GetAccountCollateralValue returns the USD value of user's collateral.
func (e *Engine) GetAccountCollateralValue(ctx context.Context, user common.Address) (*big.Int, error) {
	info, err := e.GetAccountInformation(ctx, user)
	if err != nil {
		return nil, err
	}
	return info.CollateralValueInUsd, nil
}

// GetUsdValue converts amount of asset to USD with 18 decimals.
func (e *Engine) GetUsdValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 {
		return nil, ErrNeedsMoreThanZero
	}
	l, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	price, err := l.price(asset)
	if err != nil {
		return nil, err
	}
	return usdValue(price, amount), nil
}

// GetTokenAmountFromUsd converts a USD amount with 18 decimals to units of
// asset.
func (e *Engine) GetTokenAmountFromUsd(ctx context.Context, asset common.Address, usdAmount *big.Int) (*big.Int, error) {
	if usdAmount == nil {
		usdAmount = new(big.Int)
	}
	if usdAmount.Sign() < 0 {
		return nil, ErrNeedsMoreThanZero
	}
	l, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	price, err := l.price(asset)
	if err != nil {
		return nil, err
	}
	return tokenAmountFromUsd(price, usdAmount), nil
}

// GetCollateralBalanceOfUser returns the amount of asset deposited by user.
func (e *Engine) GetCollateralBalanceOfUser(user, asset common.Address) (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return pos.CollateralOf(asset), nil
}

// GetCollateralTokens lists the registered collateral assets in registration
// order.
func (e *Engine) GetCollateralTokens() []common.Address {
	if e == nil {
		return nil
	}
	return append([]common.Address(nil), e.assets...)
}

// GetCollateralTokenPriceFeed returns the feed registered for asset.
func (e *Engine) GetCollateralTokenPriceFeed(asset common.Address) (common.Address, error) {
	if e == nil {
		return common.Address{}, ErrNilState
	}
	feed, ok := e.feeds[asset]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrTokenNotAllowed, asset.Hex())
	}
	return feed, nil
}

// GetDsc returns the stablecoin address.
func (e *Engine) GetDsc() common.Address { return e.dscAddress }

// GetCustody returns the address holding collateral and owning the stablecoin.
func (e *Engine) GetCustody() common.Address { return e.custody }

func (e *Engine) GetPrecision() *big.Int { return new(big.Int).Set(precision) }

func (e *Engine) GetAdditionalFeedPrecision() *big.Int {
	return new(big.Int).Set(additionalFeedPrecision)
}

func (e *Engine) GetLiquidationThreshold() uint64 { return LiquidationThreshold }

func (e *Engine) GetLiquidationPrecision() uint64 { return LiquidationPrecision }

func (e *Engine) GetLiquidationBonus() uint64 { return LiquidationBonus }

func (e *Engine) GetMinHealthFactor() *big.Int { return new(big.Int).Set(minHealthFactor) }

// Parameters returns the risk constants in one struct.
func (e *Engine) Parameters() Parameters {
	params := Parameters{
		Precision:               new(big.Int).Set(precision),
		AdditionalFeedPrecision: new(big.Int).Set(additionalFeedPrecision),
		LiquidationThreshold:    LiquidationThreshold,
		LiquidationPrecision:    LiquidationPrecision,
		LiquidationBonus:        LiquidationBonus,
		MinHealthFactor:         new(big.Int).Set(minHealthFactor),
		MaxPriceAge:             DefaultMaxPriceAge,
	}
	if e != nil && e.oracle != nil {
		params.MaxPriceAge = e.oracle.maxAge
	}
	return params
}

func (e *Engine) positions() ([]*Position, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	var out []*Position
	err := e.state.ForEachPosition(func(pos *Position) error {
		out = append(out, pos.Clone().normalise())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].User[:], out[j].User[:]) < 0
	})
	return out, nil
}

// LiquidatablePositions scans every position and returns those below the
// minimum health factor, priced with one sample per asset.
func (e *Engine) LiquidatablePositions(ctx context.Context) ([]LiquidatablePosition, error) {
	l, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	all, err := e.positions()
	if err != nil {
		return nil, err
	}
	var out []LiquidatablePosition
	for _, pos := range all {
		if pos.Debt().Sign() == 0 {
			continue
		}
		value, err := l.collateralValue(pos)
		if err != nil {
			return nil, err
		}
		hf := CalculateHealthFactor(pos.Debt(), value)
		if hf.Cmp(minHealthFactor) >= 0 {
			continue
		}
		out = append(out, LiquidatablePosition{
			User:                 pos.User,
			HealthFactor:         hf,
			DebtMinted:           pos.Debt(),
			CollateralValueInUsd: value,
		})
	}
	return out, nil
}

// TotalDebt sums the debt of every position.
func (e *Engine) TotalDebt() (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	all, err := e.positions()
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, pos := range all {
		total.Add(total, pos.Debt())
	}
	return total, nil
}

// TotalCollateralValue sums the USD value of all deposited collateral.
func (e *Engine) TotalCollateralValue(ctx context.Context) (*big.Int, error) {
	l, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	all, err := e.positions()
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, pos := range all {
		value, err := l.collateralValue(pos)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
