package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Stablecoin is the burnable, ownable pegged token. Only the owner may mint
// and burn.
type Stablecoin struct {
	*ERC20

	ownerMu sync.RWMutex
	owner   common.Address
}

// NewStablecoin deploys the stablecoin at address owned by owner.
func NewStablecoin(address, owner common.Address) *Stablecoin {
	return &Stablecoin{
		ERC20: NewERC20(address, "DecentralizedStableCoin", "DSC", 18),
		owner: owner,
	}
}

// Owner returns the current owner.
func (s *Stablecoin) Owner() common.Address {
	s.ownerMu.RLock()
	defer s.ownerMu.RUnlock()
	return s.owner
}

// TransferOwnership hands minting rights to newOwner.
func (s *Stablecoin) TransferOwnership(caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	if caller != s.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	s.owner = newOwner
	return nil
}

func (s *Stablecoin) onlyOwner(caller common.Address) error {
	if caller != s.Owner() {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	return nil
}

// Mint creates amount for to. Restricted to the owner.
func (s *Stablecoin) Mint(_ context.Context, caller, to common.Address, amount *big.Int) (bool, error) {
	if err := s.onlyOwner(caller); err != nil {
		return false, err
	}
	if err := s.ERC20.Mint(to, amount); err != nil {
		return false, err
	}
	return true, nil
}

// Burn destroys amount of the caller's own balance. Restricted to the owner.
func (s *Stablecoin) Burn(_ context.Context, caller common.Address, amount *big.Int) error {
	if err := s.onlyOwner(caller); err != nil {
		return err
	}
	return s.burn(caller, amount)
}
