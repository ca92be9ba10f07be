package main

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"stablecore/config"
	"stablecore/core/events"
	"stablecore/native/dsc"
	"stablecore/native/dsc/chainlink"
	"stablecore/native/token"
	tokenstore "stablecore/native/token/store"
	"stablecore/observability"
	"stablecore/services/dscd/journal"
	"stablecore/storage"
)

const collateralDecimals = 18

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory", "":
		return storage.NewMemDB(), nil
	case "leveldb":
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return db, nil
	case "bolt":
		db, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", cfg.Path, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildOracle returns the price source for the configured mode along with a
// cleanup hook for any network client it opened.
func buildOracle(cfg *config.Config, logger *slog.Logger) (dsc.PriceSource, func(), error) {
	switch cfg.Oracle.Mode {
	case "chainlink":
		client, err := chainlink.Dial(cfg.Oracle.RPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial price feed rpc: %w", err)
		}
		logger.Info("using chainlink price feeds", "rpc", cfg.Oracle.RPCURL)
		return chainlink.NewReader(client), client.Close, nil
	default:
		feed := dsc.NewManualFeed()
		for _, c := range cfg.Collateral {
			price, ok := c.PriceValue()
			if !ok {
				return nil, nil, fmt.Errorf("collateral %s: invalid manual price %q", c.Symbol, c.Price)
			}
			feed.SetPrice(common.HexToAddress(c.Feed), price, c.Decimals, timeNow())
		}
		logger.Info("using manual price feeds", "assets", len(cfg.Collateral))
		return feed, func() {}, nil
	}
}

type tokenSet struct {
	vault      *token.Vault
	collateral []*token.ERC20
	stable     *token.Stablecoin
}

// buildTokens creates the collateral tokens and the stablecoin, restoring
// their balances from db so custody keeps matching the persisted positions.
func buildTokens(cfg *config.Config, db storage.Database) (*tokenSet, error) {
	kv := tokenstore.NewKVStore(db)
	set := &tokenSet{vault: token.NewVault()}
	for _, c := range cfg.Collateral {
		erc := token.NewERC20(common.HexToAddress(c.Asset), "Wrapped "+c.Symbol, c.Symbol, collateralDecimals)
		if err := erc.Attach(kv); err != nil {
			return nil, fmt.Errorf("load %s balances: %w", c.Symbol, err)
		}
		set.vault.Register(erc)
		set.collateral = append(set.collateral, erc)
	}
	set.stable = token.NewStablecoin(common.HexToAddress(cfg.Dsc), common.HexToAddress(cfg.Custody))
	if err := set.stable.Attach(kv); err != nil {
		return nil, fmt.Errorf("load DSC balances: %w", err)
	}
	return set, nil
}

// buildEmitters fans engine events out to the event counters and, when
// configured, the journal. The returned journal is nil when disabled.
func buildEmitters(cfg config.JournalConfig, logger *slog.Logger) (events.Fanout, *journal.Journal, error) {
	emitters := events.Fanout{observability.Events()}
	if !cfg.Enabled() {
		return emitters, nil, nil
	}
	dialector, err := journal.Dialector(cfg.Driver, cfg.Target())
	if err != nil {
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	j, err := journal.OpenWith(dialector, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return append(emitters, j), j, nil
}
