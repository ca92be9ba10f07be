package dsc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stablecore/core/events"
	nativecommon "stablecore/native/common"
)

const tracerName = "stablecore/native/dsc"

// Metrics receives engine telemetry. observability.DSC satisfies it.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	RecordLiquidation(collateral string, debtCovered, collateralPaid *big.Int)
	RecordOracleFailure(asset, reason string)
	RecordRollback(op string)
}

// Config describes the immutable wiring of an engine.
type Config struct {
	// Custody holds deposited collateral and owns the stablecoin.
	Custody common.Address
	// Dsc is the address of the stablecoin contract reported by GetDsc.
	Dsc              common.Address
	CollateralAssets []common.Address
	PriceFeeds       []common.Address
	// MaxPriceAge defaults to DefaultMaxPriceAge when zero.
	MaxPriceAge time.Duration
}

// Engine is the collateralized debt engine. Mutating operations are
// serialized and either commit every effect or none.
type Engine struct {
	state   engineState
	stateMu sync.RWMutex
	opMu    sync.Mutex

	custody    common.Address
	dscAddress common.Address
	assets     []common.Address
	feeds      map[common.Address]common.Address
	oracle     *priceAdapter
	vault      CollateralVault
	dsc        Stablecoin

	emitter events.Emitter
	pauses  nativecommon.PauseView
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewEngine validates cfg and returns an engine backed by in-memory state.
func NewEngine(cfg Config, prices PriceSource, vault CollateralVault, dsc Stablecoin) (*Engine, error) {
	if len(cfg.CollateralAssets) != len(cfg.PriceFeeds) {
		return nil, ErrAssetsAndFeedsLengthMismatch
	}
	if cfg.Custody == (common.Address{}) {
		return nil, fmt.Errorf("%w: custody", ErrZeroAddress)
	}
	if prices == nil || vault == nil || dsc == nil {
		return nil, ErrMissingCollaborator
	}
	feeds := make(map[common.Address]common.Address, len(cfg.CollateralAssets))
	for i, asset := range cfg.CollateralAssets {
		feed := cfg.PriceFeeds[i]
		if asset == (common.Address{}) || feed == (common.Address{}) {
			return nil, fmt.Errorf("%w: collateral entry %d", ErrZeroAddress, i)
		}
		if _, exists := feeds[asset]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, asset.Hex())
		}
		feeds[asset] = feed
	}
	maxAge := cfg.MaxPriceAge
	if maxAge <= 0 {
		maxAge = DefaultMaxPriceAge
	}
	return &Engine{
		state:      NewMemState(),
		custody:    cfg.Custody,
		dscAddress: cfg.Dsc,
		assets:     append([]common.Address(nil), cfg.CollateralAssets...),
		feeds:      feeds,
		oracle:     &priceAdapter{source: prices, maxAge: maxAge},
		vault:      vault,
		dsc:        dsc,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default().With("module", moduleName),
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// SetState swaps the backing store. Must not be called concurrently with
// operations.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()
}

// SetEmitter configures the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires the pause view consulted by deposits and mints.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("module", moduleName)
}

// SetMetrics configures the telemetry sink.
func (e *Engine) SetMetrics(m Metrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetTracer overrides the global tracer.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	if e == nil || tracer == nil {
		return
	}
	e.tracer = tracer
}

// SetNowFunc overrides the clock used for price staleness checks.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	e.oracle.now = now
}

func (e *Engine) loadPosition(user common.Address) (*Position, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.state.GetPosition(user)
}

func (e *Engine) samplePrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	feed, ok := e.feeds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotAllowed, asset.Hex())
	}
	price, err := e.oracle.usdPrice(ctx, feed)
	if err != nil {
		e.logger.Warn("price feed rejected", "asset", asset.Hex(), "feed", feed.Hex(), "error", err)
		if e.metrics != nil {
			e.metrics.RecordOracleFailure(asset.Hex(), outcomeLabel(err))
		}
		return nil, err
	}
	return price, nil
}

func (e *Engine) allowed(asset common.Address) error {
	if _, ok := e.feeds[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotAllowed, asset.Hex())
	}
	return nil
}

// execute runs fn against a staged ledger and, when it succeeds, commits the
// ledger and settles the queued interactions. Any failure leaves the state as
// it was.
func (e *Engine) execute(ctx context.Context, op string, caller common.Address, guarded bool, fn func(*ledger) error) (err error) {
	if e == nil {
		return ErrNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "dsc."+op, trace.WithAttributes(
		attribute.String("dsc.operation", op),
		attribute.String("dsc.caller", caller.Hex()),
	))
	defer func() {
		outcome := outcomeLabel(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if e.metrics != nil {
			e.metrics.ObserveOperation(op, outcome, time.Since(start))
		}
	}()

	if e.entered(ctx) {
		return ErrReentrantCall
	}
	if caller == (common.Address{}) {
		return fmt.Errorf("%w: caller", ErrZeroAddress)
	}
	if guarded {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.state == nil {
		return ErrNilState
	}

	ctx = e.mark(ctx)
	l := newLedger(ctx, e)
	if err := fn(l); err != nil {
		return err
	}
	revert, err := l.commit()
	if err != nil {
		return err
	}
	if err := settle(ctx, l.interactions); err != nil {
		if e.metrics != nil {
			e.metrics.RecordRollback(op)
		}
		if rerr := revert(); rerr != nil {
			e.logger.Error("ledger revert failed", "op", op, "error", rerr)
			err = errors.Join(err, rerr)
		}
		e.logger.Warn("operation rolled back", "op", op, "caller", caller.Hex(), "error", err)
		return err
	}
	for _, evt := range l.events {
		e.emitter.Emit(WrapEvent(evt))
	}
	e.logger.Debug("operation committed", "op", op, "caller", caller.Hex(), "events", len(l.events))
	return nil
}

func (e *Engine) depositCollateral(l *ledger, user, asset common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := e.allowed(asset); err != nil {
		return err
	}
	if err := l.credit(user, asset, amount); err != nil {
		return err
	}
	l.record(CollateralDepositedEvent(user, asset, amount))
	e.pullCollateral(l, asset, user, amount)
	return nil
}

func (e *Engine) mintDsc(l *ledger, user common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := l.mintDebt(user, amount); err != nil {
		return err
	}
	if err := l.assertHealthy(user); err != nil {
		return err
	}
	pos, err := l.position(user)
	if err != nil {
		return err
	}
	l.record(DscMintedEvent(user, amount, pos.Debt()))
	e.mintTo(l, user, amount)
	return nil
}

func (e *Engine) redeemCollateral(l *ledger, asset common.Address, amount *big.Int, from, to common.Address) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := e.allowed(asset); err != nil {
		return err
	}
	if err := l.debit(from, asset, amount); err != nil {
		return err
	}
	l.record(CollateralRedeemedEvent(from, to, asset, amount))
	e.pushCollateral(l, asset, to, amount)
	return nil
}

func (e *Engine) burnDsc(l *ledger, amount *big.Int, onBehalfOf, payer common.Address) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := l.burnDebt(onBehalfOf, amount); err != nil {
		return err
	}
	l.record(DscBurnedEvent(onBehalfOf, payer, amount))
	e.pullDsc(l, payer, amount)
	e.burnHeld(l, amount)
	return nil
}

// DepositCollateral credits amount of asset to caller and pulls the tokens
// into custody.
func (e *Engine) DepositCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	return e.execute(ctx, "deposit_collateral", caller, true, func(l *ledger) error {
		return e.depositCollateral(l, caller, asset, amount)
	})
}

// MintDsc mints amount of DSC to caller against their collateral.
func (e *Engine) MintDsc(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.execute(ctx, "mint_dsc", caller, true, func(l *ledger) error {
		return e.mintDsc(l, caller, amount)
	})
}

// DepositCollateralAndMintDsc deposits collateral and mints DSC in one
// operation.
func (e *Engine) DepositCollateralAndMintDsc(ctx context.Context, caller, asset common.Address, collateralAmount, mintAmount *big.Int) error {
	return e.execute(ctx, "deposit_and_mint", caller, true, func(l *ledger) error {
		if err := e.depositCollateral(l, caller, asset, collateralAmount); err != nil {
			return err
		}
		return e.mintDsc(l, caller, mintAmount)
	})
}

// RedeemCollateral returns amount of asset to caller provided their health
// factor stays above the minimum.
func (e *Engine) RedeemCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	return e.execute(ctx, "redeem_collateral", caller, false, func(l *ledger) error {
		if err := e.redeemCollateral(l, asset, amount, caller, caller); err != nil {
			return err
		}
		return l.assertHealthy(caller)
	})
}

// BurnDsc repays amount of caller's debt with DSC taken from caller.
func (e *Engine) BurnDsc(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.execute(ctx, "burn_dsc", caller, false, func(l *ledger) error {
		if err := e.burnDsc(l, amount, caller, caller); err != nil {
			return err
		}
		return l.assertHealthy(caller)
	})
}

// RedeemCollateralForDsc burns burnAmount of DSC and redeems collateralAmount
// of asset in one operation.
func (e *Engine) RedeemCollateralForDsc(ctx context.Context, caller, asset common.Address, collateralAmount, burnAmount *big.Int) error {
	return e.execute(ctx, "redeem_for_dsc", caller, false, func(l *ledger) error {
		if err := e.burnDsc(l, burnAmount, caller, caller); err != nil {
			return err
		}
		if err := e.redeemCollateral(l, asset, collateralAmount, caller, caller); err != nil {
			return err
		}
		return l.assertHealthy(caller)
	})
}
