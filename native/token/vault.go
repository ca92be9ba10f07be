package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Vault routes collateral transfers to the ERC20 ledger of each asset.
type Vault struct {
	mu     sync.RWMutex
	tokens map[common.Address]*ERC20
}

// NewVault registers tokens by address.
func NewVault(tokens ...*ERC20) *Vault {
	v := &Vault{tokens: make(map[common.Address]*ERC20, len(tokens))}
	for _, token := range tokens {
		v.Register(token)
	}
	return v
}

// Register adds or replaces a token.
func (v *Vault) Register(token *ERC20) {
	if token == nil {
		return
	}
	v.mu.Lock()
	v.tokens[token.Address()] = token
	v.mu.Unlock()
}

// Token returns the ledger for asset.
func (v *Vault) Token(asset common.Address) (*ERC20, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	token, ok := v.tokens[asset]
	return token, ok
}

func (v *Vault) lookup(asset common.Address) (*ERC20, error) {
	token, ok := v.Token(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	return token, nil
}

// TransferFrom moves amount of asset from from to to using spender's
// allowance.
func (v *Vault) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) (bool, error) {
	token, err := v.lookup(asset)
	if err != nil {
		return false, err
	}
	return token.TransferFrom(ctx, spender, from, to, amount)
}

// Transfer moves amount of asset from from to to.
func (v *Vault) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) (bool, error) {
	token, err := v.lookup(asset)
	if err != nil {
		return false, err
	}
	return token.Transfer(ctx, from, to, amount)
}
