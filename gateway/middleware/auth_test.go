package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

var testCaller = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   testCaller.Hex(),
		Issuer:    "stablecore-test",
		Audience:  jwt.ClaimStrings{"dscd"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "stablecore-test",
		Audience:   "dscd",
	}, nil)
}

func captureCaller(seen *common.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if ok {
			*seen = caller
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	var seen common.Address
	handler := newTestAuthenticator().Middleware()(captureCaller(&seen))

	req := httptest.NewRequest(http.MethodPost, "/v1/dsc/mint", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims()))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if seen != testCaller {
		t.Fatalf("caller mismatch: got %s", seen.Hex())
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}
	badSubject := validClaims()
	badSubject.Subject = "not-an-address"
	zeroSubject := validClaims()
	zeroSubject.Subject = common.Address{}.Hex()

	cases := map[string]string{
		"missing":        "",
		"malformed":      "Bearer not-a-jwt",
		"wrong secret":   "Bearer " + signToken(t, "other-secret", validClaims()),
		"expired":        "Bearer " + signToken(t, testSecret, expired),
		"wrong issuer":   "Bearer " + signToken(t, testSecret, wrongIssuer),
		"wrong audience": "Bearer " + signToken(t, testSecret, wrongAudience),
		"bad subject":    "Bearer " + signToken(t, testSecret, badSubject),
		"zero subject":   "Bearer " + signToken(t, testSecret, zeroSubject),
		"basic scheme":   "Basic dXNlcjpwYXNz",
	}
	auth := newTestAuthenticator()
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			var seen common.Address
			handler := auth.Middleware()(captureCaller(&seen))
			req := httptest.NewRequest(http.MethodPost, "/v1/dsc/mint", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", res.Code)
			}
			if seen != (common.Address{}) {
				t.Fatalf("handler should not run")
			}
		})
	}
}

func TestAuthenticatorDisabledUsesCallerHeader(t *testing.T) {
	var seen common.Address
	handler := NewAuthenticator(AuthConfig{}, nil).Middleware()(captureCaller(&seen))

	req := httptest.NewRequest(http.MethodPost, "/v1/dsc/mint", nil)
	req.Header.Set("X-Caller", testCaller.Hex())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || seen != testCaller {
		t.Fatalf("expected header caller, got %d %s", res.Code, seen.Hex())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/dsc/mint", nil)
	req.Header.Set("X-Caller", "garbage")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed caller header, got %d", res.Code)
	}
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:        true,
		HMACSecret:     testSecret,
		OptionalPaths:  []string{"/v1/params"},
		AllowAnonymous: true,
	}, nil)
	var seen common.Address
	handler := auth.Middleware()(captureCaller(&seen))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/params", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected anonymous access, got %d", res.Code)
	}
}

func TestAuthenticatorWithoutSecretRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true}, nil)
	var seen common.Address
	handler := auth.Middleware()(captureCaller(&seen))
	req := httptest.NewRequest(http.MethodPost, "/v1/dsc/mint", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims()))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", res.Code)
	}
}
