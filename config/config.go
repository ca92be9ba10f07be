package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"stablecore/native/dsc"
)

// Config captures the runtime settings of the dscd daemon.
type Config struct {
	Listen     string             `toml:"listen" yaml:"listen"`
	Env        string             `toml:"env" yaml:"env"`
	LogLevel   string             `toml:"log_level" yaml:"log_level"`
	LogFile    LogFileConfig      `toml:"log_file" yaml:"log_file"`
	Custody    string             `toml:"custody" yaml:"custody"`
	Dsc        string             `toml:"dsc" yaml:"dsc"`
	Paused     bool               `toml:"paused" yaml:"paused"`
	Storage    StorageConfig      `toml:"storage" yaml:"storage"`
	Oracle     OracleConfig       `toml:"oracle" yaml:"oracle"`
	Collateral []CollateralConfig `toml:"collateral" yaml:"collateral"`
	Auth       AuthConfig         `toml:"auth" yaml:"auth"`
	RateLimit  RateLimitConfig    `toml:"rate_limit" yaml:"rate_limit"`
	Journal    JournalConfig      `toml:"journal" yaml:"journal"`
	Telemetry  TelemetryConfig    `toml:"telemetry" yaml:"telemetry"`
}

// LogFileConfig enables rotated file logging when Path is set.
type LogFileConfig struct {
	Path       string `toml:"path" yaml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	Path    string `toml:"path" yaml:"path"`
}

// OracleConfig selects the price source. Operators may override manual
// feed prices over the API; outside development environments the override
// route is only served when at least one operator is listed.
type OracleConfig struct {
	Mode      string   `toml:"mode" yaml:"mode"`
	RPCURL    string   `toml:"rpc_url" yaml:"rpc_url"`
	MaxAge    string   `toml:"max_age" yaml:"max_age"`
	Operators []string `toml:"operators" yaml:"operators"`

	maxAge time.Duration
}

// CollateralConfig registers one collateral asset. Price seeds the manual
// feed and is expressed in feed units (Decimals decimals).
type CollateralConfig struct {
	Symbol   string `toml:"symbol" yaml:"symbol"`
	Asset    string `toml:"asset" yaml:"asset"`
	Feed     string `toml:"feed" yaml:"feed"`
	Decimals uint8  `toml:"decimals" yaml:"decimals"`
	Price    string `toml:"price" yaml:"price"`
}

// PlaceholderSecret is the sample HMAC secret shipped with local configs. It
// is rejected outside development environments.
const PlaceholderSecret = "change-me-local-only"

// AuthConfig configures bearer token verification. Auth is on unless
// Enabled is explicitly false, which development environments may use to
// take the caller from the X-Caller header.
type AuthConfig struct {
	Enabled    *bool  `toml:"enabled" yaml:"enabled"`
	HMACSecret string `toml:"hmac_secret" yaml:"hmac_secret"`
	Issuer     string `toml:"issuer" yaml:"issuer"`
	Audience   string `toml:"audience" yaml:"audience"`
}

// IsEnabled reports whether bearer tokens are required.
func (a AuthConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `toml:"burst" yaml:"burst"`
}

// JournalConfig points at the event journal. Driver is sqlite (Path is a
// file) or postgres (DSN is a connection string). An empty target disables it.
type JournalConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
	Path   string `toml:"path" yaml:"path"`
	DSN    string `toml:"dsn" yaml:"dsn"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	Headers     string  `toml:"headers" yaml:"headers"`
	Traces      bool    `toml:"traces" yaml:"traces"`
	Metrics     bool    `toml:"metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`
}

// Load reads the configuration from path. YAML is used for .yaml/.yml files
// and TOML otherwise. A missing TOML file is created with development
// defaults.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if isYAML(path) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return createDefault(path)
	}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Default returns a development configuration with in-memory storage and
// manually priced WETH and WBTC collateral.
func Default() *Config {
	cfg := &Config{
		Listen:  ":8088",
		Env:     "local",
		Custody: "0x000000000000000000000000000000000000c057",
		Dsc:     "0x0000000000000000000000000000000000000d5c",
		Storage: StorageConfig{Backend: "memory"},
		Oracle:  OracleConfig{Mode: "manual", MaxAge: dsc.DefaultMaxPriceAge.String()},
		Collateral: []CollateralConfig{
			{Symbol: "WETH", Asset: "0x000000000000000000000000000000000000e7e0", Feed: "0x000000000000000000000000000000000000fe01", Decimals: 8, Price: "200000000000"},
			{Symbol: "WBTC", Asset: "0x000000000000000000000000000000000000b7c0", Feed: "0x000000000000000000000000000000000000fe02", Decimals: 8, Price: "1000000000000"},
		},
		Auth:      AuthConfig{Enabled: new(bool), Issuer: "dscd"},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
	}
	cfg.normalize()
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		cfg.Listen = ":8088"
	}
	cfg.Env = strings.TrimSpace(cfg.Env)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFile.Path = strings.TrimSpace(cfg.LogFile.Path)
	if cfg.LogFile.MaxSizeMB <= 0 {
		cfg.LogFile.MaxSizeMB = 100
	}
	cfg.Custody = strings.TrimSpace(cfg.Custody)
	cfg.Dsc = strings.TrimSpace(cfg.Dsc)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Oracle.Mode = strings.ToLower(strings.TrimSpace(cfg.Oracle.Mode))
	if cfg.Oracle.Mode == "" {
		cfg.Oracle.Mode = "manual"
	}
	cfg.Oracle.RPCURL = strings.TrimSpace(cfg.Oracle.RPCURL)
	cfg.Oracle.MaxAge = strings.TrimSpace(cfg.Oracle.MaxAge)
	for i := range cfg.Oracle.Operators {
		cfg.Oracle.Operators[i] = strings.TrimSpace(cfg.Oracle.Operators[i])
	}
	for i := range cfg.Collateral {
		c := &cfg.Collateral[i]
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		c.Asset = strings.TrimSpace(c.Asset)
		c.Feed = strings.TrimSpace(c.Feed)
		c.Price = strings.TrimSpace(c.Price)
	}
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 60
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	cfg.Journal.Path = strings.TrimSpace(cfg.Journal.Path)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if !common.IsHexAddress(cfg.Custody) || common.HexToAddress(cfg.Custody) == (common.Address{}) {
		return fmt.Errorf("custody: invalid address %q", cfg.Custody)
	}
	if cfg.Dsc != "" && !common.IsHexAddress(cfg.Dsc) {
		return fmt.Errorf("dsc: invalid address %q", cfg.Dsc)
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if err := cfg.Oracle.validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if len(cfg.Collateral) == 0 {
		return fmt.Errorf("collateral: at least one asset must be configured")
	}
	seen := make(map[common.Address]struct{}, len(cfg.Collateral))
	for i, c := range cfg.Collateral {
		if err := c.validate(cfg.Oracle.Mode); err != nil {
			return fmt.Errorf("collateral[%d]: %w", i, err)
		}
		asset := common.HexToAddress(c.Asset)
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("collateral[%d]: asset %s registered twice", i, c.Asset)
		}
		seen[asset] = struct{}{}
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unknown driver %q", cfg.Journal.Driver)
	}
	if cfg.Auth.IsEnabled() && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required")
	}
	if err := cfg.ValidateEnvironment(cfg.Env); err != nil {
		return err
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

// ValidateEnvironment rejects settings that are only safe in development
// environments when env is anything else.
func (cfg *Config) ValidateEnvironment(env string) error {
	if Development(env) {
		return nil
	}
	if !cfg.Auth.IsEnabled() {
		return fmt.Errorf("auth: cannot be disabled in %q environment", env)
	}
	if cfg.Auth.HMACSecret == PlaceholderSecret {
		return fmt.Errorf("auth: placeholder hmac_secret used in %q environment", env)
	}
	return nil
}

// Development reports whether env names a local or test deployment.
func Development(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "local", "dev", "test":
		return true
	default:
		return false
	}
}

// OperatorAddresses returns the configured oracle operators.
func (o OracleConfig) OperatorAddresses() []common.Address {
	out := make([]common.Address, 0, len(o.Operators))
	for _, raw := range o.Operators {
		out = append(out, common.HexToAddress(raw))
	}
	return out
}

func (o *OracleConfig) validate() error {
	for _, raw := range o.Operators {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("operators: invalid address %q", raw)
		}
	}
	switch o.Mode {
	case "manual":
	case "chainlink":
		if o.RPCURL == "" {
			return fmt.Errorf("rpc_url required in chainlink mode")
		}
	default:
		return fmt.Errorf("unknown mode %q", o.Mode)
	}
	o.maxAge = dsc.DefaultMaxPriceAge
	if o.MaxAge != "" {
		parsed, err := time.ParseDuration(o.MaxAge)
		if err != nil {
			return fmt.Errorf("max_age: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("max_age must be positive")
		}
		o.maxAge = parsed
	}
	return nil
}

// MaxAgeDuration returns the parsed staleness bound.
func (o OracleConfig) MaxAgeDuration() time.Duration {
	if o.maxAge <= 0 {
		return dsc.DefaultMaxPriceAge
	}
	return o.maxAge
}

func (c CollateralConfig) validate(mode string) error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol required")
	}
	if !common.IsHexAddress(c.Asset) || common.HexToAddress(c.Asset) == (common.Address{}) {
		return fmt.Errorf("invalid asset address %q", c.Asset)
	}
	if !common.IsHexAddress(c.Feed) || common.HexToAddress(c.Feed) == (common.Address{}) {
		return fmt.Errorf("invalid feed address %q", c.Feed)
	}
	if mode == "manual" {
		price, ok := c.PriceValue()
		if !ok || price.Sign() <= 0 {
			return fmt.Errorf("manual price must be a positive integer, got %q", c.Price)
		}
	}
	return nil
}

// PriceValue parses the manual feed answer.
func (c CollateralConfig) PriceValue() (*big.Int, bool) {
	return new(big.Int).SetString(c.Price, 10)
}

// Enabled reports whether a journal target is configured.
func (j JournalConfig) Enabled() bool {
	return j.Target() != ""
}

// Target returns the file path or DSN for the configured driver.
func (j JournalConfig) Target() string {
	if j.Driver == "postgres" {
		return j.DSN
	}
	return j.Path
}

// EngineConfig converts the collateral registry into engine wiring.
func (cfg *Config) EngineConfig() dsc.Config {
	out := dsc.Config{
		Custody:     common.HexToAddress(cfg.Custody),
		Dsc:         common.HexToAddress(cfg.Dsc),
		MaxPriceAge: cfg.Oracle.MaxAgeDuration(),
	}
	for _, c := range cfg.Collateral {
		out.CollateralAssets = append(out.CollateralAssets, common.HexToAddress(c.Asset))
		out.PriceFeeds = append(out.PriceFeeds, common.HexToAddress(c.Feed))
	}
	return out
}
