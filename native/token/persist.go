package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AllowanceKey identifies an allowance granted by Owner to Spender.
type AllowanceKey struct {
	Owner   common.Address
	Spender common.Address
}

// Snapshot is the full persisted state of one token.
type Snapshot struct {
	Supply     *uint256.Int
	Balances   map[common.Address]*uint256.Int
	Allowances map[AllowanceKey]*uint256.Int
}

// Changes lists the entries touched by a single token mutation. Supply is
// nil when the mutation did not change it.
type Changes struct {
	Supply     *uint256.Int
	Balances   map[common.Address]*uint256.Int
	Allowances map[AllowanceKey]*uint256.Int
}

func newChanges() *Changes {
	return &Changes{
		Balances:   make(map[common.Address]*uint256.Int),
		Allowances: make(map[AllowanceKey]*uint256.Int),
	}
}

// Store persists token balances, allowances and supply. Write is called with
// the token lock held and before the in-memory state changes, so a failed
// write leaves the token untouched.
type Store interface {
	Load(token common.Address) (*Snapshot, error)
	Write(token common.Address, changes *Changes) error
}

// Attach loads the token state held by store and persists every later
// mutation through it.
func (t *ERC20) Attach(store Store) error {
	snap, err := store.Load(t.address)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supply = uint256.Int{}
	t.balances = make(map[common.Address]*uint256.Int)
	t.allowances = make(map[common.Address]map[common.Address]*uint256.Int)
	if snap != nil {
		if snap.Supply != nil {
			t.supply = *snap.Supply
		}
		for holder, bal := range snap.Balances {
			t.balances[holder] = bal.Clone()
		}
		for key, amount := range snap.Allowances {
			if t.allowances[key.Owner] == nil {
				t.allowances[key.Owner] = make(map[common.Address]*uint256.Int)
			}
			t.allowances[key.Owner][key.Spender] = amount.Clone()
		}
	}
	t.store = store
	return nil
}

// applyLocked persists changes and then installs them in memory.
func (t *ERC20) applyLocked(changes *Changes) error {
	if t.store != nil {
		if err := t.store.Write(t.address, changes); err != nil {
			return err
		}
	}
	if changes.Supply != nil {
		t.supply = *changes.Supply
	}
	for holder, bal := range changes.Balances {
		t.balances[holder] = bal
	}
	for key, amount := range changes.Allowances {
		if t.allowances[key.Owner] == nil {
			t.allowances[key.Owner] = make(map[common.Address]*uint256.Int)
		}
		t.allowances[key.Owner][key.Spender] = amount
	}
	return nil
}
