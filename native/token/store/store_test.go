package store

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stablecore/native/dsc"
	dscstore "stablecore/native/dsc/store"
	"stablecore/native/token"
	"stablecore/storage"
)

var (
	custody  = common.HexToAddress("0x00000000000000000000000000000000000c0570")
	dscToken = common.HexToAddress("0x0000000000000000000000000000000000000d5c")
	weth     = common.HexToAddress("0x0000000000000000000000000000000000000e7e")
	wbtc     = common.HexToAddress("0x0000000000000000000000000000000000000b7c")
	feed     = common.HexToAddress("0x00000000000000000000000000000000000fee01")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestKVStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemDB()

	first := token.NewERC20(weth, "Wrapped Ether", "WETH", 18)
	require.NoError(t, first.Attach(NewKVStore(db)))
	require.NoError(t, first.Mint(alice, big.NewInt(100)))
	require.NoError(t, first.Approve(alice, bob, big.NewInt(40)))
	_, err := first.TransferFrom(ctx, bob, alice, bob, big.NewInt(15))
	require.NoError(t, err)

	// A second token over the same db must not see weth records.
	other := token.NewERC20(wbtc, "Wrapped Bitcoin", "WBTC", 8)
	require.NoError(t, other.Attach(NewKVStore(db)))
	require.NoError(t, other.Mint(bob, big.NewInt(3)))

	reloaded := token.NewERC20(weth, "Wrapped Ether", "WETH", 18)
	require.NoError(t, reloaded.Attach(NewKVStore(db)))
	require.Equal(t, big.NewInt(85), reloaded.BalanceOf(alice))
	require.Equal(t, big.NewInt(15), reloaded.BalanceOf(bob))
	require.Equal(t, big.NewInt(25), reloaded.Allowance(alice, bob))
	require.Equal(t, big.NewInt(100), reloaded.TotalSupply())

	otherReloaded := token.NewERC20(wbtc, "Wrapped Bitcoin", "WBTC", 8)
	require.NoError(t, otherReloaded.Attach(NewKVStore(db)))
	require.Equal(t, big.NewInt(3), otherReloaded.BalanceOf(bob))
	require.Zero(t, otherReloaded.BalanceOf(alice).Sign())
}

func TestKVStoreDeletesZeroEntries(t *testing.T) {
	db := storage.NewMemDB()
	weth20 := token.NewERC20(weth, "Wrapped Ether", "WETH", 18)
	require.NoError(t, weth20.Attach(NewKVStore(db)))
	require.NoError(t, weth20.Approve(alice, bob, big.NewInt(5)))
	require.NoError(t, weth20.Approve(alice, bob, big.NewInt(0)))

	_, err := db.Get(allowanceKey(weth, token.AllowanceKey{Owner: alice, Spender: bob}))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKVStoreRejectsCorruptRecords(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Put(balanceKey(weth, alice), []byte{0xff, 0x01}))
	err := token.NewERC20(weth, "Wrapped Ether", "WETH", 18).Attach(NewKVStore(db))
	require.Error(t, err)
}

type failingStore struct {
	token.Store
	fail bool
}

func (f *failingStore) Write(addr common.Address, changes *token.Changes) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Write(addr, changes)
}

func TestFailedWriteLeavesBalancesUntouched(t *testing.T) {
	ctx := context.Background()
	backing := &failingStore{Store: NewKVStore(storage.NewMemDB())}
	weth20 := token.NewERC20(weth, "Wrapped Ether", "WETH", 18)
	require.NoError(t, weth20.Attach(backing))
	require.NoError(t, weth20.Mint(alice, big.NewInt(10)))

	backing.fail = true
	_, err := weth20.Transfer(ctx, alice, bob, big.NewInt(4))
	require.Error(t, err)
	require.Equal(t, big.NewInt(10), weth20.BalanceOf(alice))
	require.Zero(t, weth20.BalanceOf(bob).Sign())
	require.Error(t, weth20.Mint(bob, big.NewInt(1)))
	require.Equal(t, big.NewInt(10), weth20.TotalSupply())
}

func TestCustodyBalancesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	path := filepath.Join(t.TempDir(), "ledger")
	prices := dsc.NewManualFeed()
	prices.SetPrice(feed, big.NewInt(2000_00000000), 8, now)

	boot := func(db storage.Database) (*dsc.Engine, *token.ERC20, *token.Stablecoin) {
		wethToken := token.NewERC20(weth, "Wrapped Ether", "WETH", 18)
		require.NoError(t, wethToken.Attach(NewKVStore(db)))
		stable := token.NewStablecoin(dscToken, custody)
		require.NoError(t, stable.Attach(NewKVStore(db)))
		engine, err := dsc.NewEngine(dsc.Config{
			Custody:          custody,
			Dsc:              dscToken,
			CollateralAssets: []common.Address{weth},
			PriceFeeds:       []common.Address{feed},
		}, prices, token.NewVault(wethToken), stable)
		require.NoError(t, err)
		engine.SetState(dscstore.NewKVState(db))
		return engine, wethToken, stable
	}

	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	engine, wethToken, _ := boot(db)
	require.NoError(t, wethToken.Mint(alice, ether(10)))
	require.NoError(t, wethToken.Approve(alice, custody, ether(10)))
	require.NoError(t, engine.DepositCollateralAndMintDsc(ctx, alice, weth, ether(10), ether(1000)))
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	engine, wethToken, stable := boot(reopened)

	require.Equal(t, ether(10), wethToken.BalanceOf(custody))
	require.Equal(t, ether(1000), stable.BalanceOf(alice))
	require.Equal(t, ether(1000), stable.TotalSupply())

	require.NoError(t, stable.Approve(alice, custody, ether(1000)))
	require.NoError(t, engine.RedeemCollateralForDsc(ctx, alice, weth, ether(10), ether(1000)))
	require.Equal(t, ether(10), wethToken.BalanceOf(alice))
	require.Zero(t, wethToken.BalanceOf(custody).Sign())
	require.Zero(t, stable.TotalSupply().Sign())
}
