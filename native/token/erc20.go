// Package token provides ERC-20 style ledgers used as the collateral tokens
// and the stablecoin of a standalone engine deployment. Ledgers live in
// memory unless a Store is attached.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount            = errors.New("token: amount must be positive")
	ErrAmountOverflow           = errors.New("token: amount exceeds 256 bits")
	ErrInsufficientBalance      = errors.New("token: insufficient balance")
	ErrInsufficientAllowance    = errors.New("token: insufficient allowance")
	ErrZeroAddress              = errors.New("token: zero address")
	ErrNotOwner                 = errors.New("token: caller is not the owner")
	ErrBurnAmountExceedsBalance = errors.New("token: burn amount exceeds balance")
	ErrUnknownToken             = errors.New("token: unknown token")
)

// TransferHook observes a transfer before balances change. A non-nil error
// aborts the transfer. Hooks receive the caller's ctx and must use it for any
// call back into the engine that initiated the transfer.
type TransferHook func(ctx context.Context, from, to common.Address, amount *big.Int) error

// ERC20 is a mutex-guarded fungible token ledger with allowances.
type ERC20 struct {
	address  common.Address
	name     string
	symbol   string
	decimals uint8

	mu         sync.RWMutex
	supply     uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	hook       TransferHook
	store      Store
}

// NewERC20 returns an empty token deployed at address.
func NewERC20(address common.Address, name, symbol string, decimals uint8) *ERC20 {
	return &ERC20{
		address:    address,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Name() string            { return t.name }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Decimals() uint8         { return t.decimals }

// SetTransferHook installs hook, or removes it when nil.
func (t *ERC20) SetTransferHook(hook TransferHook) {
	t.mu.Lock()
	t.hook = hook
	t.mu.Unlock()
}

func toWord(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return word, nil
}

func (t *ERC20) balanceLocked(addr common.Address) *uint256.Int {
	if bal, ok := t.balances[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}

// BalanceOf returns the balance of addr.
func (t *ERC20) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[addr]; ok {
		return bal.ToBig()
	}
	return new(big.Int)
}

// TotalSupply returns the circulating supply.
func (t *ERC20) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply.ToBig()
}

// Allowance returns how much spender may move on behalf of owner.
func (t *ERC20) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if allowed, ok := t.allowances[owner][spender]; ok {
		return allowed.ToBig()
	}
	return new(big.Int)
}

// Approve sets the allowance of spender over owner's balance.
func (t *ERC20) Approve(owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrAmountOverflow
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	changes := newChanges()
	changes.Allowances[AllowanceKey{Owner: owner, Spender: spender}] = word
	return t.applyLocked(changes)
}

// Mint creates amount new tokens for to.
func (t *ERC20) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	word, err := toWord(amount)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(&t.supply, word)
	if overflow {
		return ErrAmountOverflow
	}
	changes := newChanges()
	changes.Supply = supply
	changes.Balances[to] = new(uint256.Int).Add(t.balanceLocked(to), word)
	return t.applyLocked(changes)
}

func (t *ERC20) burn(from common.Address, amount *big.Int) error {
	word, err := toWord(amount)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balanceLocked(from)
	if bal.Lt(word) {
		return fmt.Errorf("%w: %s holds %s", ErrBurnAmountExceedsBalance, from.Hex(), bal.Dec())
	}
	changes := newChanges()
	changes.Supply = new(uint256.Int).Sub(&t.supply, word)
	changes.Balances[from] = new(uint256.Int).Sub(bal, word)
	return t.applyLocked(changes)
}

func (t *ERC20) runHook(ctx context.Context, from, to common.Address, amount *big.Int) error {
	t.mu.RLock()
	hook := t.hook
	t.mu.RUnlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, from, to, new(big.Int).Set(amount))
}

// Transfer moves amount from from to to.
func (t *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error) {
	word, err := toWord(amount)
	if err != nil {
		return false, err
	}
	if to == (common.Address{}) {
		return false, ErrZeroAddress
	}
	if err := t.runHook(ctx, from, to, amount); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	changes := newChanges()
	if err := t.moveLocked(changes, from, to, word); err != nil {
		return false, err
	}
	if err := t.applyLocked(changes); err != nil {
		return false, err
	}
	return true, nil
}

// TransferFrom moves amount from from to to using spender's allowance.
func (t *ERC20) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) (bool, error) {
	word, err := toWord(amount)
	if err != nil {
		return false, err
	}
	if to == (common.Address{}) {
		return false, ErrZeroAddress
	}
	if err := t.runHook(ctx, from, to, amount); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowances[from][spender]
	changes := newChanges()
	if spender != from {
		if allowed == nil || allowed.Lt(word) {
			return false, fmt.Errorf("%w: %s for %s", ErrInsufficientAllowance, spender.Hex(), from.Hex())
		}
		changes.Allowances[AllowanceKey{Owner: from, Spender: spender}] = new(uint256.Int).Sub(allowed, word)
	}
	if err := t.moveLocked(changes, from, to, word); err != nil {
		return false, err
	}
	if err := t.applyLocked(changes); err != nil {
		return false, err
	}
	return true, nil
}

// moveLocked stages a balance move into changes.
func (t *ERC20) moveLocked(changes *Changes, from, to common.Address, word *uint256.Int) error {
	src := t.balanceLocked(from)
	if src.Lt(word) {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, from.Hex(), src.Dec())
	}
	if from == to {
		return nil
	}
	changes.Balances[from] = new(uint256.Int).Sub(src, word)
	changes.Balances[to] = new(uint256.Int).Add(t.balanceLocked(to), word)
	return nil
}
