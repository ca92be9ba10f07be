package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservabilityRecordsRequests(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true, MetricsPrefix: "unit"}, nil)
	handler := obs.Middleware("mint")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/dsc/mint", nil))
	}
	if got := testutil.ToFloat64(obs.requests.WithLabelValues("mint", http.MethodPost, "409")); got != 3 {
		t.Fatalf("expected 3 requests recorded, got %v", got)
	}

	res := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), "unit_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestObservabilityDisabledPassesThrough(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{MetricsPrefix: "off"}, nil)
	handler := obs.Middleware("mint")(okHandler())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/dsc/mint", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", res.Code)
	}
	if got := testutil.CollectAndCount(obs.requests); got != 0 {
		t.Fatalf("expected no samples when disabled, got %d", got)
	}
}
