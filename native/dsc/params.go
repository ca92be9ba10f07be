package dsc

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

const moduleName = "dsc"

const (
	// LiquidationThreshold is the share of collateral value (out of
	// LiquidationPrecision) that counts towards solvency. 50 means positions
	// must be 200% overcollateralized.
	LiquidationThreshold = 50
	// LiquidationPrecision is the denominator applied to the threshold and bonus.
	LiquidationPrecision = 100
	// LiquidationBonus is the extra collateral (out of LiquidationPrecision)
	// paid to liquidators on top of the debt they cover.
	LiquidationBonus = 10

	// DefaultMaxPriceAge bounds how old a feed answer may be before it is
	// rejected as stale.
	DefaultMaxPriceAge = 3 * time.Hour

	usdDecimals = 18
)

var (
	precision               = big.NewInt(1e18)
	additionalFeedPrecision = big.NewInt(1e10)
	minHealthFactor         = big.NewInt(1e18)
	liquidationThreshold    = big.NewInt(LiquidationThreshold)
	liquidationPrecision    = big.NewInt(LiquidationPrecision)
	liquidationBonus        = big.NewInt(LiquidationBonus)

	// maxHealthFactor is reported for positions without debt.
	maxHealthFactor = new(uint256.Int).SetAllOne().ToBig()
)

// Parameters exposes the engine's risk constants.
type Parameters struct {
	Precision               *big.Int
	AdditionalFeedPrecision *big.Int
	LiquidationThreshold    uint64
	LiquidationPrecision    uint64
	LiquidationBonus        uint64
	MinHealthFactor         *big.Int
	MaxPriceAge             time.Duration
}

// Clone returns a deep copy of the parameters.
func (p Parameters) Clone() Parameters {
	clone := p
	if p.Precision != nil {
		clone.Precision = new(big.Int).Set(p.Precision)
	}
	if p.AdditionalFeedPrecision != nil {
		clone.AdditionalFeedPrecision = new(big.Int).Set(p.AdditionalFeedPrecision)
	}
	if p.MinHealthFactor != nil {
		clone.MinHealthFactor = new(big.Int).Set(p.MinHealthFactor)
	}
	return clone
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// validAmount enforces the strictly positive, 256-bit bounded amounts the
// ledger accepts.
func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNeedsMoreThanZero
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrAmountOverflow
	}
	return nil
}
