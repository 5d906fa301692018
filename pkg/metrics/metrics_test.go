package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBootstrapMetricsIncrement(t *testing.T) {
	BootstrapOutcomes.WithLabelValues("test", "authenticated").Inc()
	if v := testutil.ToFloat64(BootstrapOutcomes.WithLabelValues("test", "authenticated")); v < 1 {
		t.Fatalf("expected BootstrapOutcomes >= 1, got %v", v)
	}

	CallbackResults.WithLabelValues("invalid").Add(2)
	if v := testutil.ToFloat64(CallbackResults.WithLabelValues("invalid")); v < 2 {
		t.Fatalf("expected CallbackResults >= 2, got %v", v)
	}

	LoginRedirects.WithLabelValues("test").Inc()
	if v := testutil.ToFloat64(LoginRedirects.WithLabelValues("test")); v < 1 {
		t.Fatalf("expected LoginRedirects >= 1, got %v", v)
	}
}

func TestMetricsHandlerExposesRegisteredMetrics(t *testing.T) {
	TokenRefreshes.WithLabelValues("success").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sessionboot_token_refreshes_total") {
		t.Fatalf("expected token refresh metric in output")
	}
}
