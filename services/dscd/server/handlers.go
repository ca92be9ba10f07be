package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"stablecore/gateway/middleware"
)

var errInvalidRequest = errors.New("invalid request")

type collateralRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type depositAndMintRequest struct {
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	MintAmount       string `json:"mintAmount"`
}

type redeemForDscRequest struct {
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	BurnAmount       string `json:"burnAmount"`
}

type liquidateRequest struct {
	Collateral  string `json:"collateral"`
	User        string `json:"user"`
	DebtToCover string `json:"debtToCover"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type priceRequest struct {
	Answer   string `json:"answer"`
	Decimals *uint8 `json:"decimals"`
}

type priceResponse struct {
	Feed      string `json:"feed"`
	Answer    string `json:"answer"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt int64  `json:"updatedAt"`
}

type collateralBalance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type accountResponse struct {
	Address              string              `json:"address"`
	TotalDscMinted       string              `json:"totalDscMinted"`
	CollateralValueInUsd string              `json:"collateralValueInUsd"`
	HealthFactor         string              `json:"healthFactor"`
	Collateral           []collateralBalance `json:"collateral"`
}

type operationResponse struct {
	Status    string `json:"status"`
	Operation string `json:"operation"`
	RequestID string `json:"requestId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	params := s.engine.Parameters()
	writeJSON(w, http.StatusOK, map[string]any{
		"dsc":                     s.engine.GetDsc().Hex(),
		"custody":                 s.engine.GetCustody().Hex(),
		"precision":               bigString(params.Precision),
		"additionalFeedPrecision": bigString(params.AdditionalFeedPrecision),
		"liquidationThreshold":    params.LiquidationThreshold,
		"liquidationPrecision":    params.LiquidationPrecision,
		"liquidationBonus":        params.LiquidationBonus,
		"minHealthFactor":         bigString(params.MinHealthFactor),
		"maxPriceAge":             params.MaxPriceAge.String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	debt, err := s.engine.TotalDebt()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := s.engine.TotalCollateralValue(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"totalDebt":            debt.String(),
		"totalCollateralValue": value.String(),
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.GetCollateralTokens()
	out := make([]map[string]any, 0, len(assets))
	for _, asset := range assets {
		feed, err := s.engine.GetCollateralTokenPriceFeed(asset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		entry := map[string]any{
			"asset":     asset.Hex(),
			"priceFeed": feed.Hex(),
		}
		if tok, ok := s.tokens[asset]; ok {
			entry["symbol"] = tok.Symbol()
			entry["decimals"] = tok.Decimals()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

func (s *Server) handleUsdValue(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	usd, err := s.engine.GetUsdValue(ctx, asset, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "amount": amount.String(), "usd": usd.String()})
}

func (s *Server) handleTokenAmount(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	usd, err := parseAmount("usd", r.URL.Query().Get("usd"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	amount, err := s.engine.GetTokenAmountFromUsd(ctx, asset, usd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "usd": usd.String(), "amount": amount.String()})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	info, err := s.engine.GetAccountInformation(ctx, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hf, err := s.engine.GetHealthFactor(ctx, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := accountResponse{
		Address:              user.Hex(),
		TotalDscMinted:       bigString(info.TotalDscMinted),
		CollateralValueInUsd: bigString(info.CollateralValueInUsd),
		HealthFactor:         bigString(hf),
	}
	for _, asset := range s.engine.GetCollateralTokens() {
		bal, err := s.engine.GetCollateralBalanceOfUser(user, asset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Collateral = append(resp.Collateral, collateralBalance{Asset: asset.Hex(), Amount: bigString(bal)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	positions, err := s.engine.LiquidatablePositions(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]string, 0, len(positions))
	for _, pos := range positions {
		out = append(out, map[string]string{
			"user":                 pos.User.Hex(),
			"healthFactor":         bigString(pos.HealthFactor),
			"debtMinted":           bigString(pos.DebtMinted),
			"collateralValueInUsd": bigString(pos.CollateralValueInUsd),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, r, http.StatusNotFound, "event journal not configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be between 1 and 1000", errInvalidRequest))
			return
		}
		limit = parsed
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	entries, err := s.journal.Recent(ctx, r.URL.Query().Get("type"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	tok, tokenAddr, err := s.token(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":            tokenAddr.Hex(),
		"address":          owner.Hex(),
		"balance":          bigString(tok.BalanceOf(owner)),
		"custodyAllowance": bigString(tok.Allowance(owner, s.engine.GetCustody())),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	asset, amount, err := parseAssetAmount(req.Asset, "amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.finish(w, r, "deposit", s.engine.DepositCollateral(ctx, caller, asset, amount))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.finish(w, r, "mint", s.engine.MintDsc(ctx, caller, amount))
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	asset, collateral, err := parseAssetAmount(req.Asset, "collateralAmount", req.CollateralAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mint, err := parseAmount("mintAmount", req.MintAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.finish(w, r, "deposit-and-mint", s.engine.DepositCollateralAndMintDsc(ctx, caller, asset, collateral, mint))
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	asset, amount, err := parseAssetAmount(req.Asset, "amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.finish(w, r, "redeem", s.engine.RedeemCollateral(ctx, caller, asset, amount))
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.finish(w, r, "burn", s.engine.BurnDsc(ctx, caller, amount))
}

func (s *Server) handleRedeemForDsc(w http.ResponseWriter, r *http.Request) {
	var req redeemForDscRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	asset, collateral, err := parseAssetAmount(req.Asset, "collateralAmount", req.CollateralAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	burn, err := parseAmount("burnAmount", req.BurnAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.finish(w, r, "redeem-for-dsc", s.engine.RedeemCollateralForDsc(ctx, caller, asset, collateral, burn))
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	collateral, debt, err := parseAssetAmount(req.Collateral, "debtToCover", req.DebtToCover)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := parseAddress("user", req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	res, err := s.engine.Liquidate(ctx, caller, collateral, borrower, debt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":               "ok",
		"operation":            "liquidate",
		"requestId":            w.Header().Get(requestIDHeader),
		"borrower":             res.Borrower.Hex(),
		"liquidator":           res.Liquidator.Hex(),
		"collateral":           res.Collateral.Hex(),
		"debtCovered":          bigString(res.DebtCovered),
		"collateralPaid":       bigString(res.CollateralPaid),
		"bonusPaid":            bigString(res.BonusPaid),
		"startingHealthFactor": bigString(res.StartingHealthFactor),
		"endingHealthFactor":   bigString(res.EndingHealthFactor),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	tok, _, err := s.token(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender := s.engine.GetCustody()
	if strings.TrimSpace(req.Spender) != "" {
		if spender, err = parseAddress("spender", req.Spender); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, "approve", tok.Approve(caller, spender, amount))
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	_, tokenAddr, err := s.token(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.finish(w, r, "faucet", s.faucet(ctx, tokenAddr, caller, amount))
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	caller, ok := s.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	if len(s.ops) > 0 {
		if _, allowed := s.ops[caller]; !allowed {
			s.writeError(w, r, fmt.Errorf("%w: %s", errForbidden, caller.Hex()))
			return
		}
	}
	feed, err := s.feed(chi.URLParam(r, "feed"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	answer, err := parseAmount("answer", req.Answer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if answer.Sign() <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: answer must be positive", errInvalidRequest))
		return
	}
	if req.Decimals == nil {
		s.writeError(w, r, fmt.Errorf("%w: decimals required", errInvalidRequest))
		return
	}
	updatedAt := s.now()
	s.oracle.SetPrice(feed, answer, *req.Decimals, updatedAt)
	s.logger.Warn("manual price override",
		"feed", feed.Hex(),
		"answer", answer.String(),
		"decimals", *req.Decimals,
		"operator", caller.Hex())
	writeJSON(w, http.StatusOK, priceResponse{
		Feed:      feed.Hex(),
		Answer:    answer.String(),
		Decimals:  *req.Decimals,
		UpdatedAt: updatedAt.Unix(),
	})
}

// feed resolves raw to one of the registered collateral price feeds.
func (s *Server) feed(raw string) (common.Address, error) {
	addr, err := parseAddress("feed", raw)
	if err != nil {
		return common.Address{}, err
	}
	for _, asset := range s.engine.GetCollateralTokens() {
		feed, err := s.engine.GetCollateralTokenPriceFeed(asset)
		if err == nil && feed == addr {
			return addr, nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: unknown price feed %s", errNotFound, addr.Hex())
}

func (s *Server) token(raw string) (Token, common.Address, error) {
	addr, err := parseAddress("token", raw)
	if err != nil {
		return nil, common.Address{}, err
	}
	tok, ok := s.tokens[addr]
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: unknown token %s", errNotFound, addr.Hex())
	}
	return tok, addr, nil
}

// decodeMutation resolves the authenticated caller and decodes the JSON body.
func (s *Server) decodeMutation(w http.ResponseWriter, r *http.Request, dst any) (common.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errUnauthenticated)
		return common.Address{}, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit+1))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read body: %v", errInvalidRequest, err))
		return common.Address{}, false
	}
	if len(body) > requestLimit {
		s.writeError(w, r, fmt.Errorf("%w: request body too large", errInvalidRequest))
		return common.Address{}, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return common.Address{}, false
	}
	return caller, true
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{
		Status:    "ok",
		Operation: op,
		RequestID: w.Header().Get(requestIDHeader),
	})
}

func parseAssetAmount(rawAsset, field, rawAmount string) (common.Address, *big.Int, error) {
	asset, err := parseAddress("asset", rawAsset)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := parseAmount(field, rawAmount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return asset, amount, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errInvalidRequest, field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount reads a base-10 integer. Sign and range checks are left to
// the engine so API and library callers see the same errors.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s required", errInvalidRequest, field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a base-10 integer", errInvalidRequest, field)
	}
	return value, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
