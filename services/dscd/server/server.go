// Package server exposes the collateral engine over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablecore/gateway/middleware"
	"stablecore/native/dsc"
	"stablecore/services/dscd/journal"
)

const (
	requestLimit    = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

// Engine is the subset of the collateral engine served over HTTP.
type Engine interface {
	DepositCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error
	MintDsc(ctx context.Context, caller common.Address, amount *big.Int) error
	DepositCollateralAndMintDsc(ctx context.Context, caller, asset common.Address, collateralAmount, mintAmount *big.Int) error
	RedeemCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error
	BurnDsc(ctx context.Context, caller common.Address, amount *big.Int) error
	RedeemCollateralForDsc(ctx context.Context, caller, asset common.Address, collateralAmount, burnAmount *big.Int) error
	Liquidate(ctx context.Context, liquidator, collateral, borrower common.Address, debtToCover *big.Int) (*dsc.LiquidationResult, error)

	GetAccountInformation(ctx context.Context, user common.Address) (dsc.AccountInformation, error)
	GetHealthFactor(ctx context.Context, user common.Address) (*big.Int, error)
	GetCollateralBalanceOfUser(user, asset common.Address) (*big.Int, error)
	GetCollateralTokens() []common.Address
	GetCollateralTokenPriceFeed(asset common.Address) (common.Address, error)
	GetUsdValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
	GetTokenAmountFromUsd(ctx context.Context, asset common.Address, usdAmount *big.Int) (*big.Int, error)
	GetDsc() common.Address
	GetCustody() common.Address
	Parameters() dsc.Parameters
	LiquidatablePositions(ctx context.Context) ([]dsc.LiquidatablePosition, error)
	TotalDebt() (*big.Int, error)
	TotalCollateralValue(ctx context.Context) (*big.Int, error)
}

// Token is the wallet surface of a token held by API callers.
type Token interface {
	Symbol() string
	Decimals() uint8
	BalanceOf(addr common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Approve(owner, spender common.Address, amount *big.Int) error
}

// Journal lists recorded engine events.
type Journal interface {
	Recent(ctx context.Context, eventType string, limit int) ([]journal.Entry, error)
}

// FaucetFunc credits test balances. Only wired in development environments.
type FaucetFunc func(ctx context.Context, asset, to common.Address, amount *big.Int) error

// PriceSetter overrides manually maintained feed prices.
type PriceSetter interface {
	SetPrice(feed common.Address, answer *big.Int, decimals uint8, updatedAt time.Time)
}

// Config wires the HTTP server dependencies. Oracle enables the price
// override route; when Operators is non-empty only those callers may use it.
type Config struct {
	Engine         Engine
	Tokens         map[common.Address]Token
	Journal        Journal
	Faucet         FaucetFunc
	Oracle         PriceSetter
	Operators      []common.Address
	Now            func() time.Time
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Server hosts the engine API.
type Server struct {
	engine  Engine
	tokens  map[common.Address]Token
	journal Journal
	faucet  FaucetFunc
	oracle  PriceSetter
	ops     map[common.Address]struct{}
	now     func() time.Time
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	logger  *slog.Logger
	timeout time.Duration
}

// New validates cfg and constructs the server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tokens := make(map[common.Address]Token, len(cfg.Tokens))
	for addr, tok := range cfg.Tokens {
		if tok != nil {
			tokens[addr] = tok
		}
	}
	ops := make(map[common.Address]struct{}, len(cfg.Operators))
	for _, op := range cfg.Operators {
		ops[op] = struct{}{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		engine:  cfg.Engine,
		tokens:  tokens,
		journal: cfg.Journal,
		faucet:  cfg.Faucet,
		oracle:  cfg.Oracle,
		ops:     ops,
		now:     now,
		auth:    auth,
		limiter: cfg.RateLimiter,
		obs:     cfg.Observability,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	if s.obs != nil {
		r.Use(s.obs.Middleware("root"))
	}

	r.Get("/healthz", s.handleHealth)
	if s.obs != nil {
		r.Handle("/metrics", s.obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/params", s.handleParams)
		v1.Get("/stats", s.handleStats)
		v1.Get("/assets", s.handleAssets)
		v1.Get("/assets/{asset}/usd-value", s.handleUsdValue)
		v1.Get("/assets/{asset}/token-amount", s.handleTokenAmount)
		v1.Get("/accounts/{address}", s.handleAccount)
		v1.Get("/liquidatable", s.handleLiquidatable)
		v1.Get("/events", s.handleEvents)
		v1.Get("/tokens/{token}/balances/{address}", s.handleTokenBalance)

		v1.Group(func(authed chi.Router) {
			authed.Use(s.auth.Middleware())
			s.mutation(authed, "/collateral/deposit", "deposit", s.handleDeposit)
			s.mutation(authed, "/dsc/mint", "mint", s.handleMint)
			s.mutation(authed, "/collateral/deposit-and-mint", "deposit-and-mint", s.handleDepositAndMint)
			s.mutation(authed, "/collateral/redeem", "redeem", s.handleRedeem)
			s.mutation(authed, "/dsc/burn", "burn", s.handleBurn)
			s.mutation(authed, "/collateral/redeem-for-dsc", "redeem-for-dsc", s.handleRedeemForDsc)
			s.mutation(authed, "/liquidations", "liquidate", s.handleLiquidate)
			s.mutation(authed, "/tokens/{token}/approve", "approve", s.handleApprove)
			if s.faucet != nil {
				s.mutation(authed, "/tokens/{token}/faucet", "faucet", s.handleFaucet)
			}
			if s.oracle != nil {
				s.mutation(authed, "/oracle/feeds/{feed}/price", "oracle-price", s.handleSetPrice)
			}
		})
	})
	return r
}

func (s *Server) mutation(r chi.Router, pattern, key string, handler http.HandlerFunc) {
	var h http.Handler = handler
	if s.limiter != nil {
		h = s.limiter.Middleware(key)(h)
	}
	if s.obs != nil {
		h = s.obs.Middleware(key)(h)
	}
	r.Method(http.MethodPost, pattern, h)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           otelhttp.NewHandler(s.Handler(), "dscd.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("dscd http server listening", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
