package dsc

import (
	"context"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// TestRandomOperationsPreserveSolvency drives random operations through the
// engine and checks after each one that every indebted account is healthy,
// that collateral value covers the DSC supply, and that the ledger matches
// the token balances.
func TestRandomOperationsPreserveSolvency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := []common.Address{alice, bob, carol}
	assets := []common.Address{wethAddr, wbtcAddr}
	for _, user := range users {
		f.fund(t, f.weth, user, ether(1000))
		f.fund(t, f.wbtc, user, ether(1000))
		f.approveDsc(t, user, ether(1_000_000_000))
	}

	rng := rand.New(rand.NewSource(42))
	amount := func(max int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(rng.Int63n(max)+1), big.NewInt(1e17))
	}
	committed := 0
	for i := 0; i < 400; i++ {
		user := users[rng.Intn(len(users))]
		asset := assets[rng.Intn(len(assets))]
		var err error
		switch rng.Intn(6) {
		case 0:
			err = f.engine.DepositCollateral(ctx, user, asset, amount(100))
		case 1:
			err = f.engine.MintDsc(ctx, user, amount(50_000))
		case 2:
			err = f.engine.DepositCollateralAndMintDsc(ctx, user, asset, amount(50), amount(200_000))
		case 3:
			err = f.engine.RedeemCollateral(ctx, user, asset, amount(100))
		case 4:
			err = f.engine.BurnDsc(ctx, user, amount(50_000))
		case 5:
			err = f.engine.RedeemCollateralForDsc(ctx, user, asset, amount(100), amount(50_000))
		}
		if err == nil {
			committed++
		}
		checkInvariants(t, f, users, assets)
	}
	if committed == 0 {
		t.Fatalf("no operation committed")
	}
}

func checkInvariants(t *testing.T, f *fixture, users, assets []common.Address) {
	t.Helper()
	ctx := context.Background()
	for _, user := range users {
		if hf := f.healthFactor(t, user); hf.Cmp(minHealthFactor) < 0 {
			t.Fatalf("%s committed with health factor %s", user.Hex(), hf)
		}
	}
	debt, err := f.engine.TotalDebt()
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	expectAmount(t, "dsc supply", f.dsc.TotalSupply(), debt)
	collateral, err := f.engine.TotalCollateralValue(ctx)
	if err != nil {
		t.Fatalf("total collateral: %v", err)
	}
	if collateral.Cmp(debt) < 0 {
		t.Fatalf("collateral %s below outstanding supply %s", collateral, debt)
	}
	tokens := map[common.Address]interface{ BalanceOf(common.Address) *big.Int }{
		wethAddr: f.weth,
		wbtcAddr: f.wbtc,
	}
	for _, asset := range assets {
		sum := new(big.Int)
		for _, user := range users {
			sum.Add(sum, f.collateralOf(t, user, asset))
		}
		expectAmount(t, "custody "+asset.Hex(), tokens[asset].BalanceOf(custodyAddr), sum)
	}
}
