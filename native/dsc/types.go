package dsc

import (
	"bytes"
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Position is the ledger entry of a single user: collateral held per asset in
// the asset's smallest unit and the amount of DSC minted against it.
type Position struct {
	User       common.Address
	Collateral map[common.Address]*big.Int
	DebtMinted *big.Int
}

// NewPosition returns an empty position for user.
func NewPosition(user common.Address) *Position {
	return &Position{
		User:       user,
		Collateral: make(map[common.Address]*big.Int),
		DebtMinted: big.NewInt(0),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := NewPosition(p.User)
	for asset, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[asset] = new(big.Int).Set(amount)
		}
	}
	if p.DebtMinted != nil {
		clone.DebtMinted = new(big.Int).Set(p.DebtMinted)
	}
	return clone
}

// CollateralOf returns a copy of the balance held for asset.
func (p *Position) CollateralOf(asset common.Address) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	amount, ok := p.Collateral[asset]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// Debt returns a copy of the minted debt.
func (p *Position) Debt() *big.Int {
	if p == nil || p.DebtMinted == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(p.DebtMinted)
}

// Assets lists the assets with a recorded balance in byte order.
func (p *Position) Assets() []common.Address {
	if p == nil {
		return nil
	}
	assets := make([]common.Address, 0, len(p.Collateral))
	for asset := range p.Collateral {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool {
		return bytes.Compare(assets[i][:], assets[j][:]) < 0
	})
	return assets
}

// IsZero reports whether the position holds neither collateral nor debt.
func (p *Position) IsZero() bool {
	if p == nil {
		return true
	}
	if p.DebtMinted != nil && p.DebtMinted.Sign() != 0 {
		return false
	}
	for _, amount := range p.Collateral {
		if amount != nil && amount.Sign() != 0 {
			return false
		}
	}
	return true
}

func (p *Position) normalise() *Position {
	if p.Collateral == nil {
		p.Collateral = make(map[common.Address]*big.Int)
	}
	if p.DebtMinted == nil {
		p.DebtMinted = big.NewInt(0)
	}
	return p
}

// AccountInformation summarises a user's debt and the USD value of their
// collateral, both with 18 decimals.
type AccountInformation struct {
	TotalDscMinted       *big.Int
	CollateralValueInUsd *big.Int
}

// CollateralAsset pairs a registered collateral token with its price feed.
type CollateralAsset struct {
	Asset     common.Address
	PriceFeed common.Address
}

// LiquidationResult describes a committed liquidation.
type LiquidationResult struct {
	Borrower             common.Address
	Liquidator           common.Address
	Collateral           common.Address
	DebtCovered          *big.Int
	CollateralPaid       *big.Int
	BonusPaid            *big.Int
	StartingHealthFactor *big.Int
	EndingHealthFactor   *big.Int
}

// LiquidatablePosition is a position whose health factor is below the minimum.
type LiquidatablePosition struct {
	User                 common.Address
	HealthFactor         *big.Int
	DebtMinted           *big.Int
	CollateralValueInUsd *big.Int
}

// CollateralVault moves collateral tokens in and out of engine custody.
// Implementations return false or an error when a transfer does not settle.
//
// The engine holds its operation lock while calling collaborators. Any call
// back into the engine must use ctx or a context derived from it, which the
// engine rejects with ErrReentrantCall. A call made with an unrelated context
// waits on the lock held by the caller and never returns.
type CollateralVault interface {
	TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) (bool, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) (bool, error)
}

// Stablecoin is the pegged unit. Mint and Burn are restricted to the token
// owner, which must be the engine's custody address. Implementations must
// pass ctx along to any code that may call the engine, as for
// CollateralVault.
type Stablecoin interface {
	Mint(ctx context.Context, caller, to common.Address, amount *big.Int) (bool, error)
	Burn(ctx context.Context, caller common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error)
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) (bool, error)
}
