package dsc

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stablecore/core/events"
	nativecommon "stablecore/native/common"
	"stablecore/native/token"
)

func TestNewEngineValidatesRegistry(t *testing.T) {
	feed := NewManualFeed()
	vault := token.NewVault()
	dsc := token.NewStablecoin(dscAddr, custodyAddr)

	_, err := NewEngine(Config{
		Custody:          custodyAddr,
		CollateralAssets: []common.Address{wethAddr, wbtcAddr},
		PriceFeeds:       []common.Address{wethFeed},
	}, feed, vault, dsc)
	if !errors.Is(err, ErrAssetsAndFeedsLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}

	_, err = NewEngine(Config{
		Custody:          custodyAddr,
		CollateralAssets: []common.Address{wethAddr, wethAddr},
		PriceFeeds:       []common.Address{wethFeed, wbtcFeed},
	}, feed, vault, dsc)
	if !errors.Is(err, ErrDuplicateAsset) {
		t.Fatalf("expected duplicate asset, got %v", err)
	}

	_, err = NewEngine(Config{
		CollateralAssets: []common.Address{wethAddr},
		PriceFeeds:       []common.Address{wethFeed},
	}, feed, vault, dsc)
	if !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero custody rejection, got %v", err)
	}

	_, err = NewEngine(Config{Custody: custodyAddr}, nil, vault, dsc)
	if !errors.Is(err, ErrMissingCollaborator) {
		t.Fatalf("expected missing collaborator, got %v", err)
	}
}

func TestRegistryGetters(t *testing.T) {
	f := newFixture(t)
	tokens := f.engine.GetCollateralTokens()
	if len(tokens) != 2 || tokens[0] != wethAddr || tokens[1] != wbtcAddr {
		t.Fatalf("unexpected collateral tokens: %v", tokens)
	}
	tokens[0] = common.Address{}
	if f.engine.GetCollateralTokens()[0] != wethAddr {
		t.Fatalf("registry mutated through returned slice")
	}
	feed, err := f.engine.GetCollateralTokenPriceFeed(wbtcAddr)
	if err != nil || feed != wbtcFeed {
		t.Fatalf("unexpected feed %s (%v)", feed.Hex(), err)
	}
	if _, err := f.engine.GetCollateralTokenPriceFeed(carol); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected unregistered feed lookup to fail, got %v", err)
	}
	if f.engine.GetDsc() != dscAddr {
		t.Fatalf("unexpected dsc address")
	}
	expectAmount(t, "precision", f.engine.GetPrecision(), big.NewInt(1e18))
	expectAmount(t, "feed precision", f.engine.GetAdditionalFeedPrecision(), big.NewInt(1e10))
	expectAmount(t, "min health factor", f.engine.GetMinHealthFactor(), big.NewInt(1e18))
	if f.engine.GetLiquidationThreshold() != 50 || f.engine.GetLiquidationPrecision() != 100 || f.engine.GetLiquidationBonus() != 10 {
		t.Fatalf("unexpected liquidation constants")
	}
	if f.engine.Parameters().MaxPriceAge != DefaultMaxPriceAge {
		t.Fatalf("unexpected max price age")
	}
}

func TestUsdConversions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	value, err := f.engine.GetUsdValue(ctx, wethAddr, ether(15))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	expectAmount(t, "usd value", value, ether(30000))

	amount, err := f.engine.GetTokenAmountFromUsd(ctx, wethAddr, ether(100))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	expectAmount(t, "token amount", amount, mustBig(t, "50000000000000000"))

	if _, err := f.engine.GetUsdValue(ctx, carol, ether(1)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected unregistered asset to fail, got %v", err)
	}
}

func TestDepositCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.weth, alice, ether(10))

	if err := f.engine.DepositCollateral(ctx, alice, wethAddr, ether(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	expectAmount(t, "ledger collateral", f.collateralOf(t, alice, wethAddr), ether(10))
	expectAmount(t, "custody balance", f.weth.BalanceOf(custodyAddr), ether(10))
	expectAmount(t, "user balance", f.weth.BalanceOf(alice), big.NewInt(0))
	info, err := f.engine.GetAccountInformation(ctx, alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	expectAmount(t, "collateral usd", info.CollateralValueInUsd, ether(20000))
	expectAmount(t, "debt", info.TotalDscMinted, big.NewInt(0))

	types := f.recorder.Types()
	if len(types) != 1 || types[0] != EventTypeCollateralDeposited {
		t.Fatalf("unexpected events: %v", types)
	}
	evt := f.recorder.Events()[0].(events.Payload).Event()
	if evt.Attributes["user"] != alice.Hex() || evt.Attributes["amount"] != ether(10).String() {
		t.Fatalf("unexpected event attributes: %v", evt.Attributes)
	}
}

func TestDepositRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.DepositCollateral(ctx, alice, wethAddr, big.NewInt(0)); !errors.Is(err, ErrNeedsMoreThanZero) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	if err := f.engine.DepositCollateral(ctx, alice, carol, ether(1)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected unregistered asset rejection, got %v", err)
	}
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := f.engine.DepositCollateral(ctx, alice, wethAddr, tooLarge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow rejection, got %v", err)
	}
	if err := f.engine.MintDsc(ctx, common.Address{}, ether(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero caller rejection, got %v", err)
	}
}

func TestDepositRollsBackWhenTransferFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.weth.Mint(alice, ether(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := f.engine.DepositCollateral(ctx, alice, wethAddr, ether(1))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	expectAmount(t, "ledger collateral", f.collateralOf(t, alice, wethAddr), big.NewInt(0))
	expectAmount(t, "user balance", f.weth.BalanceOf(alice), ether(1))
	if len(f.recorder.Events()) != 0 {
		t.Fatalf("events emitted for failed deposit: %v", f.recorder.Types())
	}
}

func TestMintAndHealthFactorScenario(t *testing.T) {
	f := newFixture(t)
	f.open(t, alice, ether(10), ether(5000))

	expectAmount(t, "dsc balance", f.dsc.BalanceOf(alice), ether(5000))
	expectAmount(t, "health factor", f.healthFactor(t, alice), mustBig(t, "2000000000000000000"))

	f.setWethPrice(800)
	info, err := f.engine.GetAccountInformation(context.Background(), alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	expectAmount(t, "collateral usd", info.CollateralValueInUsd, ether(8000))
	expectAmount(t, "health factor", f.healthFactor(t, alice), mustBig(t, "800000000000000000"))

	positions, err := f.engine.LiquidatablePositions(context.Background())
	if err != nil {
		t.Fatalf("liquidatable positions: %v", err)
	}
	if len(positions) != 1 || positions[0].User != alice {
		t.Fatalf("unexpected liquidatable positions: %+v", positions)
	}
}

func TestMintBreakingHealthFactorLeavesDebtUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, alice, ether(10), ether(1000))

	err := f.engine.MintDsc(ctx, alice, ether(9001))
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected health factor violation, got %v", err)
	}
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected typed error, got %T", err)
	}
	if breaks.HealthFactor.Cmp(minHealthFactor) >= 0 || breaks.User != alice {
		t.Fatalf("unexpected error payload: %+v", breaks)
	}
	expectAmount(t, "debt", f.debtOf(t, alice), ether(1000))
	expectAmount(t, "dsc balance", f.dsc.BalanceOf(alice), ether(1000))

	if err := f.engine.MintDsc(ctx, alice, ether(9000)); err != nil {
		t.Fatalf("mint up to the threshold: %v", err)
	}
	expectAmount(t, "health factor", f.healthFactor(t, alice), big.NewInt(1e18))
}

func TestMintRollsBackWhenMintFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.weth, alice, ether(10))
	if err := f.dsc.TransferOwnership(custodyAddr, carol); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}

	err := f.engine.DepositCollateralAndMintDsc(ctx, alice, wethAddr, ether(10), ether(100))
	if !errors.Is(err, ErrMintFailed) {
		t.Fatalf("expected mint failure, got %v", err)
	}
	expectAmount(t, "debt", f.debtOf(t, alice), big.NewInt(0))
	expectAmount(t, "ledger collateral", f.collateralOf(t, alice, wethAddr), big.NewInt(0))
	expectAmount(t, "collateral returned", f.weth.BalanceOf(alice), ether(10))
	expectAmount(t, "custody balance", f.weth.BalanceOf(custodyAddr), big.NewInt(0))
}

func TestRedeemCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, alice, ether(10), ether(5000))

	if err := f.engine.RedeemCollateral(ctx, alice, wethAddr, ether(6)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected health factor violation, got %v", err)
	}
	expectAmount(t, "ledger collateral", f.collateralOf(t, alice, wethAddr), ether(10))
	expectAmount(t, "user balance", f.weth.BalanceOf(alice), big.NewInt(0))

	if err := f.engine.RedeemCollateral(ctx, alice, wethAddr, ether(5)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	expectAmount(t, "ledger collateral", f.collateralOf(t, alice, wethAddr), ether(5))
	expectAmount(t, "user balance", f.weth.BalanceOf(alice), ether(5))

	if err := f.engine.RedeemCollateral(ctx, bob, wethAddr, ether(1)); !errors.Is(err, ErrLedgerUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestDepositRedeemRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.wbtc, bob, ether(3))
	before := f.collateralOf(t, bob, wbtcAddr)
	hfBefore := f.healthFactor(t, bob)

	if err := f.engine.DepositCollateral(ctx, bob, wbtcAddr, ether(3)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.RedeemCollateral(ctx, bob, wbtcAddr, ether(3)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	expectAmount(t, "ledger collateral", f.collateralOf(t, bob, wbtcAddr), before)
	expectAmount(t, "health factor", f.healthFactor(t, bob), hfBefore)
	expectAmount(t, "token balance", f.wbtc.BalanceOf(bob), ether(3))
	expectAmount(t, "custody balance", f.wbtc.BalanceOf(custodyAddr), big.NewInt(0))

	types := f.recorder.Types()
	if len(types) != 2 || types[1] != EventTypeCollateralRedeemed {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestBurnDsc(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, alice, ether(10), ether(1000))

	if err := f.engine.BurnDsc(ctx, alice, ether(400)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected burn without allowance to fail, got %v", err)
	}
	expectAmount(t, "debt", f.debtOf(t, alice), ether(1000))

	f.approveDsc(t, alice, ether(400))
	if err := f.engine.BurnDsc(ctx, alice, ether(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	expectAmount(t, "debt", f.debtOf(t, alice), ether(600))
	expectAmount(t, "dsc balance", f.dsc.BalanceOf(alice), ether(600))
	expectAmount(t, "dsc supply", f.dsc.TotalSupply(), ether(600))

	if err := f.engine.BurnDsc(ctx, alice, ether(601)); !errors.Is(err, ErrLedgerUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestBurnCompensatesPulledDscWhenBurnFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, alice, ether(10), ether(1000))
	f.approveDsc(t, alice, ether(1000))
	if err := f.dsc.TransferOwnership(custodyAddr, carol); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}

	err := f.engine.BurnDsc(ctx, alice, ether(500))
	if !errors.Is(err, ErrBurnFailed) {
		t.Fatalf("expected burn failure, got %v", err)
	}
	expectAmount(t, "debt", f.debtOf(t, alice), ether(1000))
	expectAmount(t, "dsc returned", f.dsc.BalanceOf(alice), ether(1000))
	expectAmount(t, "custody dsc", f.dsc.BalanceOf(custodyAddr), big.NewInt(0))
}

func TestRedeemCollateralForDsc(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, alice, ether(10), ether(5000))
	f.approveDsc(t, alice, ether(5000))

	if err := f.engine.RedeemCollateralForDsc(ctx, alice, wethAddr, ether(10), ether(4000)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected health factor violation, got %v", err)
	}
	expectAmount(t, "debt", f.debtOf(t, alice), ether(5000))
	expectAmount(t, "dsc balance", f.dsc.BalanceOf(alice), ether(5000))

	if err := f.engine.RedeemCollateralForDsc(ctx, alice, wethAddr, ether(10), ether(5000)); err != nil {
		t.Fatalf("redeem for dsc: %v", err)
	}
	expectAmount(t, "debt", f.debtOf(t, alice), big.NewInt(0))
	expectAmount(t, "collateral", f.collateralOf(t, alice, wethAddr), big.NewInt(0))
	expectAmount(t, "weth balance", f.weth.BalanceOf(alice), ether(10))
	expectAmount(t, "dsc supply", f.dsc.TotalSupply(), big.NewInt(0))
}

func TestPauseBlocksDepositsAndMints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, alice, ether(10), ether(1000))
	pauses := nativecommon.NewPauseSet(moduleName)
	f.engine.SetPauses(pauses)

	f.fund(t, f.weth, alice, ether(1))
	if err := f.engine.DepositCollateral(ctx, alice, wethAddr, ether(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused deposit, got %v", err)
	}
	if err := f.engine.MintDsc(ctx, alice, ether(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused mint, got %v", err)
	}
	f.approveDsc(t, alice, ether(1000))
	if err := f.engine.BurnDsc(ctx, alice, ether(1000)); err != nil {
		t.Fatalf("burn while paused: %v", err)
	}
	if err := f.engine.RedeemCollateral(ctx, alice, wethAddr, ether(10)); err != nil {
		t.Fatalf("redeem while paused: %v", err)
	}

	pauses.Resume(moduleName)
	if err := f.engine.DepositCollateral(ctx, alice, wethAddr, ether(1)); err != nil {
		t.Fatalf("deposit after resume: %v", err)
	}
}

func TestGettersAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, alice, ether(10), ether(3000))

	read := func() []*big.Int {
		info, err := f.engine.GetAccountInformation(ctx, alice)
		if err != nil {
			t.Fatalf("account information: %v", err)
		}
		hf := f.healthFactor(t, alice)
		usd, err := f.engine.GetUsdValue(ctx, wethAddr, ether(2))
		if err != nil {
			t.Fatalf("usd value: %v", err)
		}
		amount, err := f.engine.GetTokenAmountFromUsd(ctx, wethAddr, ether(2))
		if err != nil {
			t.Fatalf("token amount: %v", err)
		}
		value, err := f.engine.GetAccountCollateralValue(ctx, alice)
		if err != nil {
			t.Fatalf("collateral value: %v", err)
		}
		return []*big.Int{info.TotalDscMinted, info.CollateralValueInUsd, hf, usd, amount, value, f.collateralOf(t, alice, wethAddr)}
	}
	first := read()
	for i := 0; i < 3; i++ {
		again := read()
		for j := range first {
			expectAmount(t, "getter", again[j], first[j])
		}
	}
	if len(f.recorder.Events()) != 2 {
		t.Fatalf("getters emitted events: %v", f.recorder.Types())
	}
}

func TestCalculateHealthFactor(t *testing.T) {
	if CalculateHealthFactor(big.NewInt(0), ether(100)).Cmp(maxHealthFactor) != 0 {
		t.Fatalf("zero debt must report the maximum health factor")
	}
	expectAmount(t, "health factor", CalculateHealthFactor(ether(100), ether(1000)), ether(5))
	expectAmount(t, "health factor", CalculateHealthFactor(ether(100), ether(150)), mustBig(t, "750000000000000000"))
	expectAmount(t, "health factor", CalculateHealthFactor(ether(1), nil), big.NewInt(0))
}
