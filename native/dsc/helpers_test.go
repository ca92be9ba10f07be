package dsc

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablecore/core/events"
	"stablecore/native/token"
)

var (
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000c0570")
	dscAddr     = common.HexToAddress("0x0000000000000000000000000000000000000d5c")
	wethAddr    = common.HexToAddress("0x0000000000000000000000000000000000000e7e")
	wbtcAddr    = common.HexToAddress("0x0000000000000000000000000000000000000b7c")
	wethFeed    = common.HexToAddress("0x00000000000000000000000000000000000fee01")
	wbtcFeed    = common.HexToAddress("0x00000000000000000000000000000000000fee02")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol       = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine   *Engine
	feed     *ManualFeed
	weth     *token.ERC20
	wbtc     *token.ERC20
	dsc      *token.Stablecoin
	recorder *events.Recorder
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func usd8(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e8))
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("parse %q", s)
	}
	return v
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	feed := NewManualFeed()
	feed.SetPrice(wethFeed, usd8(2000), 8, testNow)
	feed.SetPrice(wbtcFeed, usd8(1000), 8, testNow)

	weth := token.NewERC20(wethAddr, "Wrapped Ether", "WETH", 18)
	wbtc := token.NewERC20(wbtcAddr, "Wrapped Bitcoin", "WBTC", 18)
	dsc := token.NewStablecoin(dscAddr, custodyAddr)

	engine, err := NewEngine(Config{
		Custody:          custodyAddr,
		Dsc:              dscAddr,
		CollateralAssets: []common.Address{wethAddr, wbtcAddr},
		PriceFeeds:       []common.Address{wethFeed, wbtcFeed},
	}, feed, token.NewVault(weth, wbtc), dsc)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return testNow })
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	return &fixture{engine: engine, feed: feed, weth: weth, wbtc: wbtc, dsc: dsc, recorder: recorder}
}

// fund mints collateral to user and approves custody to pull it.
func (f *fixture) fund(t *testing.T, tok *token.ERC20, user common.Address, amount *big.Int) {
	t.Helper()
	if err := tok.Mint(user, amount); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	if err := tok.Approve(user, custodyAddr, tok.BalanceOf(user)); err != nil {
		t.Fatalf("approve collateral: %v", err)
	}
}

func (f *fixture) approveDsc(t *testing.T, user common.Address, amount *big.Int) {
	t.Helper()
	if err := f.dsc.Approve(user, custodyAddr, amount); err != nil {
		t.Fatalf("approve dsc: %v", err)
	}
}

// open deposits weth and mints debt for user.
func (f *fixture) open(t *testing.T, user common.Address, collateral, debt *big.Int) {
	t.Helper()
	f.fund(t, f.weth, user, collateral)
	if err := f.engine.DepositCollateralAndMintDsc(context.Background(), user, wethAddr, collateral, debt); err != nil {
		t.Fatalf("open position: %v", err)
	}
}

func (f *fixture) setWethPrice(dollars int64) {
	f.feed.SetPrice(wethFeed, usd8(dollars), 8, testNow)
}

func (f *fixture) healthFactor(t *testing.T, user common.Address) *big.Int {
	t.Helper()
	hf, err := f.engine.GetHealthFactor(context.Background(), user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	return hf
}

func (f *fixture) debtOf(t *testing.T, user common.Address) *big.Int {
	t.Helper()
	info, err := f.engine.GetAccountInformation(context.Background(), user)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	return info.TotalDscMinted
}

func (f *fixture) collateralOf(t *testing.T, user, asset common.Address) *big.Int {
	t.Helper()
	bal, err := f.engine.GetCollateralBalanceOfUser(user, asset)
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	return bal
}

func expectAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("%s: got %v want %s", label, got, want)
	}
}
