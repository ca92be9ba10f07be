package dsc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type reentrancyKey struct{}

// entered reports whether ctx was handed out by this engine to a collaborator
// during an operation. Contexts derived from it carry the marker too.
// sync.Mutex is not reentrant, so a collaborator that drops ctx deadlocks
// instead of reaching this check.
func (e *Engine) entered(ctx context.Context) bool {
	owner, _ := ctx.Value(reentrancyKey{}).(*Engine)
	return owner == e
}

func (e *Engine) mark(ctx context.Context) context.Context {
	return context.WithValue(ctx, reentrancyKey{}, e)
}

// interaction is an external call performed after the ledger commit. undo is
// nil for calls that cannot be compensated.
type interaction struct {
	name string
	run  func(context.Context) error
	undo func(context.Context) error
}

func (i interaction) reversible() bool { return i.undo != nil }

// settle runs the interactions with irreversible ones last. When a call fails
// the completed calls are compensated in reverse order.
func settle(ctx context.Context, pending []interaction) error {
	ordered := append([]interaction(nil), pending...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].reversible() && !ordered[j].reversible()
	})
	for i, step := range ordered {
		if err := step.run(ctx); err != nil {
			return errors.Join(fmt.Errorf("%s: %w", step.name, err), unwind(ctx, ordered[:i]))
		}
	}
	return nil
}

func unwind(ctx context.Context, done []interaction) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].undo == nil {
			continue
		}
		if err := done[i].undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", done[i].name, err))
		}
	}
	return errors.Join(errs...)
}

func settled(ok bool, err error, failure error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", failure, err)
	}
	if !ok {
		return failure
	}
	return nil
}

func (e *Engine) pullCollateral(l *ledger, asset, from common.Address, amount *big.Int) {
	amount = new(big.Int).Set(amount)
	l.queue("pull collateral",
		func(ctx context.Context) error {
			ok, err := e.vault.TransferFrom(ctx, asset, e.custody, from, e.custody, amount)
			return settled(ok, err, ErrTransferFailed)
		},
		func(ctx context.Context) error {
			ok, err := e.vault.Transfer(ctx, asset, e.custody, from, amount)
			return settled(ok, err, ErrTransferFailed)
		})
}

func (e *Engine) pushCollateral(l *ledger, asset, to common.Address, amount *big.Int) {
	amount = new(big.Int).Set(amount)
	l.queue("push collateral",
		func(ctx context.Context) error {
			ok, err := e.vault.Transfer(ctx, asset, e.custody, to, amount)
			return settled(ok, err, ErrTransferFailed)
		}, nil)
}

func (e *Engine) pullDsc(l *ledger, from common.Address, amount *big.Int) {
	amount = new(big.Int).Set(amount)
	l.queue("pull dsc",
		func(ctx context.Context) error {
			ok, err := e.dsc.TransferFrom(ctx, e.custody, from, e.custody, amount)
			return settled(ok, err, ErrTransferFailed)
		},
		func(ctx context.Context) error {
			ok, err := e.dsc.Transfer(ctx, e.custody, from, amount)
			return settled(ok, err, ErrTransferFailed)
		})
}

func (e *Engine) burnHeld(l *ledger, amount *big.Int) {
	amount = new(big.Int).Set(amount)
	l.queue("burn dsc",
		func(ctx context.Context) error {
			if err := e.dsc.Burn(ctx, e.custody, amount); err != nil {
				return fmt.Errorf("%w: %w", ErrBurnFailed, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			ok, err := e.dsc.Mint(ctx, e.custody, e.custody, amount)
			return settled(ok, err, ErrMintFailed)
		})
}

func (e *Engine) mintTo(l *ledger, to common.Address, amount *big.Int) {
	amount = new(big.Int).Set(amount)
	l.queue("mint dsc",
		func(ctx context.Context) error {
			ok, err := e.dsc.Mint(ctx, e.custody, to, amount)
			return settled(ok, err, ErrMintFailed)
		}, nil)
}
