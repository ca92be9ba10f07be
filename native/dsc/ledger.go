package dsc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"stablecore/core/types"
)

type engineState interface {
	// GetPosition returns the stored position for user or nil when none exists.
	GetPosition(user common.Address) (*Position, error)
	PutPosition(position *Position) error
	ForEachPosition(fn func(*Position) error) error
}

// MemState is the default in-memory engine state. Positions are copied on
// the way in and out.
type MemState struct {
	mu        sync.RWMutex
	positions map[common.Address]*Position
}

// NewMemState returns an empty in-memory state.
func NewMemState() *MemState {
	return &MemState{positions: make(map[common.Address]*Position)}
}

// GetPosition implements engineState.
func (m *MemState) GetPosition(user common.Address) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[user]
	if !ok {
		return nil, nil
	}
	return pos.Clone(), nil
}

// PutPosition implements engineState. Zero balances are kept as zero
// entries.
func (m *MemState) PutPosition(position *Position) error {
	if position == nil {
		return fmt.Errorf("dsc engine: nil position")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positions == nil {
		m.positions = make(map[common.Address]*Position)
	}
	m.positions[position.User] = position.Clone()
	return nil
}

// ForEachPosition implements engineState.
func (m *MemState) ForEachPosition(fn func(*Position) error) error {
	m.mu.RLock()
	snapshot := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		snapshot = append(snapshot, pos.Clone())
	}
	m.mu.RUnlock()
	for _, pos := range snapshot {
		if err := fn(pos); err != nil {
			return err
		}
	}
	return nil
}

// ledger stages the effects of a single operation. Nothing reaches the
// engine state until commit.
type ledger struct {
	engine       *Engine
	ctx          context.Context
	positions    map[common.Address]*Position
	touched      []common.Address
	prices       map[common.Address]*big.Int
	interactions []interaction
	events       []*types.Event
}

func newLedger(ctx context.Context, e *Engine) *ledger {
	return &ledger{
		engine:    e,
		ctx:       ctx,
		positions: make(map[common.Address]*Position),
		prices:    make(map[common.Address]*big.Int),
	}
}

func (l *ledger) position(user common.Address) (*Position, error) {
	if pos, ok := l.positions[user]; ok {
		return pos, nil
	}
	stored, err := l.engine.loadPosition(user)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = NewPosition(user)
	}
	stored = stored.Clone().normalise()
	stored.User = user
	l.positions[user] = stored
	return stored, nil
}

func (l *ledger) touch(user common.Address) {
	for _, addr := range l.touched {
		if addr == user {
			return
		}
	}
	l.touched = append(l.touched, user)
}

func (l *ledger) credit(user, asset common.Address, amount *big.Int) error {
	pos, err := l.position(user)
	if err != nil {
		return err
	}
	pos.Collateral[asset] = new(big.Int).Add(pos.CollateralOf(asset), amount)
	l.touch(user)
	return nil
}

func (l *ledger) debit(user, asset common.Address, amount *big.Int) error {
	pos, err := l.position(user)
	if err != nil {
		return err
	}
	balance := pos.CollateralOf(asset)
	if balance.Cmp(amount) < 0 {
		l.engine.logger.Error("collateral debit exceeds balance",
			"user", user.Hex(), "asset", asset.Hex(), "balance", balance.String(), "amount", amount.String())
		return fmt.Errorf("%w: %s holds %s of %s, debit %s", ErrLedgerUnderflow, user.Hex(), balance, asset.Hex(), amount)
	}
	pos.Collateral[asset] = balance.Sub(balance, amount)
	l.touch(user)
	return nil
}

func (l *ledger) mintDebt(user common.Address, amount *big.Int) error {
	pos, err := l.position(user)
	if err != nil {
		return err
	}
	pos.DebtMinted = new(big.Int).Add(pos.Debt(), amount)
	l.touch(user)
	return nil
}

func (l *ledger) burnDebt(user common.Address, amount *big.Int) error {
	pos, err := l.position(user)
	if err != nil {
		return err
	}
	debt := pos.Debt()
	if debt.Cmp(amount) < 0 {
		l.engine.logger.Error("debt burn exceeds minted balance",
			"user", user.Hex(), "debt", debt.String(), "amount", amount.String())
		return fmt.Errorf("%w: %s owes %s, burn %s", ErrLedgerUnderflow, user.Hex(), debt, amount)
	}
	pos.DebtMinted = debt.Sub(debt, amount)
	l.touch(user)
	return nil
}

// price returns the normalised price of asset, sampling the feed at most once
// per operation.
func (l *ledger) price(asset common.Address) (*big.Int, error) {
	if cached, ok := l.prices[asset]; ok {
		return cached, nil
	}
	price, err := l.engine.samplePrice(l.ctx, asset)
	if err != nil {
		return nil, err
	}
	l.prices[asset] = price
	return price, nil
}

func (l *ledger) queue(name string, run, undo func(context.Context) error) {
	l.interactions = append(l.interactions, interaction{name: name, run: run, undo: undo})
}

func (l *ledger) record(evt *types.Event) {
	if evt != nil {
		l.events = append(l.events, evt)
	}
}

// commit writes every touched position and returns a function restoring the
// previous values.
func (l *ledger) commit() (func() error, error) {
	e := l.engine
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	journal := make([]*Position, 0, len(l.touched))
	revert := func() error {
		var errs []error
		for i := len(journal) - 1; i >= 0; i-- {
			if err := e.state.PutPosition(journal[i]); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", journal[i].User.Hex(), err))
			}
		}
		return errors.Join(errs...)
	}
	for _, user := range l.touched {
		previous, err := e.state.GetPosition(user)
		if err != nil {
			return nil, errors.Join(err, revert())
		}
		if previous == nil {
			previous = NewPosition(user)
		}
		if err := e.state.PutPosition(l.positions[user].Clone()); err != nil {
			return nil, errors.Join(err, revert())
		}
		journal = append(journal, previous)
	}
	locked := func() error {
		e.stateMu.Lock()
		defer e.stateMu.Unlock()
		return revert()
	}
	return locked, nil
}
