package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls bearer-token validation. The token subject carries the
// hex address the request acts for.
type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const (
	ContextKeyToken  contextKey = "stablecore.token"
	ContextKeyCaller contextKey = "stablecore.caller"
)

var (
	errSecretMissing    = errors.New("auth secret not configured")
	errIssuerMismatch   = errors.New("issuer mismatch")
	errAudienceMismatch = errors.New("audience mismatch")
	errSubjectInvalid   = errors.New("subject is not a hex address")
)

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware authenticates mutating routes. When authentication is disabled
// the caller falls back to the X-Caller header so local tooling can drive the
// engine without minting tokens.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				ctx := r.Context()
				if raw := strings.TrimSpace(r.Header.Get("X-Caller")); raw != "" {
					if !common.IsHexAddress(raw) {
						http.Error(w, "invalid caller", http.StatusUnauthorized)
						return
					}
					ctx = WithCaller(ctx, common.HexToAddress(raw))
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if a.isOptional(r.URL.Path) && a.cfg.AllowAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("auth: token validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			caller, err := a.callerFromClaims(claims)
			if err != nil {
				a.logger.Warn("auth: claim validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
			ctx = WithCaller(ctx, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCaller stores the authenticated caller address on ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(common.Address)
	if !ok || caller == (common.Address{}) {
		return common.Address{}, false
	}
	return caller, true
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (*jwt.RegisteredClaims, error) {
	if len(a.secret) == 0 {
		return nil, errSecretMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := new(jwt.RegisteredClaims)
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func (a *Authenticator) callerFromClaims(claims *jwt.RegisteredClaims) (common.Address, error) {
	if a.cfg.Issuer != "" && claims.Issuer != a.cfg.Issuer {
		return common.Address{}, errIssuerMismatch
	}
	if a.cfg.Audience != "" {
		matched := false
		for _, aud := range claims.Audience {
			if aud == a.cfg.Audience {
				matched = true
				break
			}
		}
		if !matched {
			return common.Address{}, errAudienceMismatch
		}
	}
	subject := strings.TrimSpace(claims.Subject)
	if !common.IsHexAddress(subject) {
		return common.Address{}, errSubjectInvalid
	}
	caller := common.HexToAddress(subject)
	if caller == (common.Address{}) {
		return common.Address{}, errSubjectInvalid
	}
	return caller, nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
