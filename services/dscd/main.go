package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"stablecore/config"
	"stablecore/gateway/middleware"
	nativecommon "stablecore/native/common"
	"stablecore/native/dsc"
	"stablecore/native/dsc/store"
	"stablecore/observability"
	"stablecore/observability/logging"
	telemetry "stablecore/observability/otel"
	"stablecore/services/dscd/server"
)

var timeNow = time.Now

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/dscd/config.toml", "path to dscd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("dscd: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Env
	if override := strings.TrimSpace(os.Getenv("STABLECORE_ENV")); override != "" {
		env = override
	}
	if err := cfg.ValidateEnvironment(env); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dev := config.Development(env)

	var logFile *logging.FileConfig
	if cfg.LogFile.Path != "" {
		logFile = &logging.FileConfig{
			Path:       cfg.LogFile.Path,
			MaxSizeMB:  cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAgeDays: cfg.LogFile.MaxAgeDays,
			Compress:   true,
		}
	}
	logger, logCloser := logging.Setup("dscd", env, logging.Options{Level: cfg.LogLevel, File: logFile})
	if logCloser != nil {
		defer logCloser.Close()
	}

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "dscd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	db, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	prices, closeOracle, err := buildOracle(cfg, logger)
	if err != nil {
		return err
	}
	defer closeOracle()

	tokens, err := buildTokens(cfg, db)
	if err != nil {
		return err
	}
	engine, err := dsc.NewEngine(cfg.EngineConfig(), prices, tokens.vault, tokens.stable)
	if err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}
	engine.SetState(store.NewKVState(db))
	engine.SetLogger(logger)
	engine.SetMetrics(observability.DSC())

	pauses := nativecommon.NewPauseSet()
	if cfg.Paused {
		pauses.Pause("dsc")
		logger.Warn("deposits and mints paused by configuration")
	}
	engine.SetPauses(pauses)

	emitters, journalDB, err := buildEmitters(cfg.Journal, logger)
	if err != nil {
		return err
	}
	if journalDB != nil {
		defer journalDB.Close()
	}
	engine.SetEmitter(emitters)

	serverTokens := make(map[ethcommon.Address]server.Token, len(tokens.collateral)+1)
	for _, erc := range tokens.collateral {
		serverTokens[erc.Address()] = erc
	}
	serverTokens[tokens.stable.Address()] = tokens.stable

	var faucet server.FaucetFunc
	if dev {
		faucet = func(_ context.Context, asset, to ethcommon.Address, amount *big.Int) error {
			erc, ok := tokens.vault.Token(asset)
			if !ok {
				return fmt.Errorf("faucet: %s is not a collateral token", asset.Hex())
			}
			return erc.Mint(to, amount)
		}
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "dscd",
		Enabled:     true,
		LogRequests: strings.EqualFold(cfg.LogLevel, "debug"),
	}, logger)
	limiter := middleware.NewRateLimiter(mutationLimits(cfg.RateLimit), logger)
	if !cfg.Auth.IsEnabled() {
		logger.Warn("bearer auth disabled; callers are taken from the X-Caller header")
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.IsEnabled(),
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, logger)

	cfgServer := server.Config{
		Engine:        engine,
		Tokens:        serverTokens,
		Faucet:        faucet,
		Oracle:        priceOverrides(prices, cfg.Oracle, dev, logger),
		Operators:     cfg.Oracle.OperatorAddresses(),
		Now:           timeNow,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
		Logger:        logger,
	}
	if journalDB != nil {
		cfgServer.Journal = journalDB
	}
	srv, err := server.New(cfgServer)
	if err != nil {
		return fmt.Errorf("configure server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dscd starting",
		"listen", cfg.Listen,
		"storage", cfg.Storage.Backend,
		"oracle", cfg.Oracle.Mode,
		"collateral", len(cfg.Collateral))
	if err := srv.Run(ctx, cfg.Listen); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("dscd stopped")
	return nil
}

func mutationLimits(cfg config.RateLimitConfig) map[string]middleware.RateLimit {
	limit := middleware.RateLimit{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst}
	keys := []string{"deposit", "mint", "deposit-and-mint", "redeem", "burn", "redeem-for-dsc", "liquidate", "approve", "faucet", "oracle-price"}
	out := make(map[string]middleware.RateLimit, len(keys))
	for _, key := range keys {
		out[key] = limit
	}
	return out
}

// priceOverrides exposes the manual feed to the API. Outside development
// environments an explicit operator list is required.
func priceOverrides(prices dsc.PriceSource, cfg config.OracleConfig, dev bool, logger *slog.Logger) server.PriceSetter {
	feed, ok := prices.(*dsc.ManualFeed)
	if !ok {
		return nil
	}
	if !dev && len(cfg.Operators) == 0 {
		logger.Warn("manual price overrides disabled: no oracle operators configured")
		return nil
	}
	return feed
}
