package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "dscd.toml", `
listen = " :9000 "
env = "staging"
custody = "0x00000000000000000000000000000000000c0570"
dsc = "0x0000000000000000000000000000000000000d5c"

[storage]
backend = "LevelDB"
path = "./data/ledger"

[oracle]
mode = "chainlink"
rpc_url = "https://rpc.example"
max_age = "90m"

[[collateral]]
symbol = " weth "
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
decimals = 8

[auth]
hmac_secret = "s3cret"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Equal(t, 90*time.Minute, cfg.Oracle.MaxAgeDuration())
	require.Equal(t, "WETH", cfg.Collateral[0].Symbol)
	require.Equal(t, 600.0, cfg.RateLimit.RequestsPerMinute)

	engineCfg := cfg.EngineConfig()
	require.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000c0570"), engineCfg.Custody)
	require.Equal(t, []common.Address{common.HexToAddress("0x0000000000000000000000000000000000000e7e")}, engineCfg.CollateralAssets)
	require.Equal(t, []common.Address{common.HexToAddress("0x00000000000000000000000000000000000fee01")}, engineCfg.PriceFeeds)
	require.Equal(t, 90*time.Minute, engineCfg.MaxPriceAge)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "dscd.yaml", `
custody: "0x00000000000000000000000000000000000c0570"
storage:
  backend: bolt
  path: ledger.db
collateral:
  - symbol: WBTC
    asset: "0x0000000000000000000000000000000000000b7c"
    feed: "0x00000000000000000000000000000000000fee02"
    decimals: 8
    price: "6000000000000"
auth:
  hmac_secret: "s3cret"
journal:
  path: journal.db
rate_limit:
  requests_per_minute: 30
  burst: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.Storage.Backend)
	require.Equal(t, "manual", cfg.Oracle.Mode)
	require.Equal(t, 3*time.Hour, cfg.Oracle.MaxAgeDuration())
	require.Equal(t, 30.0, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.Equal(t, "sqlite", cfg.Journal.Driver)
	require.True(t, cfg.Journal.Enabled())
	require.Equal(t, "journal.db", cfg.Journal.Target())
	price, ok := cfg.Collateral[0].PriceValue()
	require.True(t, ok)
	require.Equal(t, "6000000000000", price.String())
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dscd.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Collateral, 2)
	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Collateral, reloaded.Collateral)
	require.Equal(t, cfg.Custody, reloaded.Custody)
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	cases := map[string]string{
		"unknown key": `
custody = "0x00000000000000000000000000000000000c0570"
mystery = true
`,
		"bad custody": `
custody = "not-an-address"
[auth]
hmac_secret = "x"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
`,
		"no collateral": `
custody = "0x00000000000000000000000000000000000c0570"
[auth]
hmac_secret = "x"
`,
		"manual without price": `
custody = "0x00000000000000000000000000000000000c0570"
[auth]
hmac_secret = "x"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
`,
		"duplicate asset": `
custody = "0x00000000000000000000000000000000000c0570"
[auth]
hmac_secret = "x"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
[[collateral]]
symbol = "WETH2"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee02"
price = "1"
`,
		"chainlink without rpc": `
custody = "0x00000000000000000000000000000000000c0570"
[oracle]
mode = "chainlink"
[auth]
hmac_secret = "x"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
`,
		"leveldb without path": `
custody = "0x00000000000000000000000000000000000c0570"
[storage]
backend = "leveldb"
[auth]
hmac_secret = "x"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
`,
		"bad operator": `
custody = "0x00000000000000000000000000000000000c0570"
[oracle]
operators = ["nope"]
[auth]
hmac_secret = "x"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
`,
		"auth disabled in production": `
env = "prod"
custody = "0x00000000000000000000000000000000000c0570"
[auth]
enabled = false
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
`,
		"placeholder secret in production": `
env = "prod"
custody = "0x00000000000000000000000000000000000c0570"
[auth]
hmac_secret = "change-me-local-only"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
`,
		"missing secret": `
custody = "0x00000000000000000000000000000000000c0570"
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "dscd.toml", contents))
			require.Error(t, err)
		})
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAuthCanBeDisabledLocally(t *testing.T) {
	path := writeConfig(t, "dscd.toml", `
env = "local"
custody = "0x00000000000000000000000000000000000c0570"
[oracle]
operators = [" 0x00000000000000000000000000000000000a11ce "]
[auth]
enabled = false
[[collateral]]
symbol = "WETH"
asset = "0x0000000000000000000000000000000000000e7e"
feed = "0x00000000000000000000000000000000000fee01"
price = "1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Auth.IsEnabled())
	require.Equal(t, []common.Address{common.HexToAddress("0x00000000000000000000000000000000000a11ce")}, cfg.Oracle.OperatorAddresses())

	// The same file is refused once the environment is overridden.
	require.Error(t, cfg.ValidateEnvironment("prod"))
	require.NoError(t, cfg.ValidateEnvironment("test"))
}

func TestAuthEnabledByDefault(t *testing.T) {
	require.True(t, AuthConfig{}.IsEnabled())
	require.False(t, Default().Auth.IsEnabled())
	require.Empty(t, Default().Auth.HMACSecret)
	require.True(t, Development(" DEV "))
	require.False(t, Development("staging"))
}

func TestJournalTargets(t *testing.T) {
	pg := JournalConfig{Driver: "postgres", Path: "ignored.db", DSN: "postgres://dscd@db/dscd"}
	require.Equal(t, "postgres://dscd@db/dscd", pg.Target())
	require.True(t, pg.Enabled())
	require.False(t, JournalConfig{Driver: "sqlite"}.Enabled())
}
