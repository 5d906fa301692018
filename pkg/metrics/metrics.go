package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bootstrap outcome per mode (server, cli): authenticated, redirecting, error
	BootstrapOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_bootstrap_outcomes_total",
		Help: "Total number of session bootstrap runs grouped by outcome",
	}, []string{"mode", "outcome"})
	BootstrapDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sessionboot_bootstrap_duration_seconds",
		Help:    "Duration of session bootstrap runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	CallbackResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_callback_results_total",
		Help: "Total number of redirect callback checks grouped by result (absent, present, invalid)",
	}, []string{"result"})
	LoginRedirects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_login_redirects_total",
		Help: "Total number of redirects to the hosted login page",
	}, []string{"mode"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_token_refreshes_total",
		Help: "Total number of refresh token grants grouped by result",
	}, []string{"result"})
	BrowserSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessionboot_browser_sessions",
		Help: "Number of browser sessions currently tracked by the server",
	})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"route"})
	// Safety data sheet uploads grouped by result: ok, bad_request, too_large, conversion_error
	Extractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_extractions_total",
		Help: "Total number of safety data sheet extractions grouped by result",
	}, []string{"result"})
	ExtractionFieldsMissing = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_extraction_fields_missing_total",
		Help: "Total number of safety data sheet fields that could not be extracted",
	}, []string{"field"})

	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_audit_events_written_total",
		Help: "Total number of audit events written per sink",
	}, []string{"sink"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_audit_sink_errors_total",
		Help: "Total number of audit sink write failures grouped by error type",
	}, []string{"sink", "error_type"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionboot_audit_events_dropped_total",
		Help: "Total number of audit events dropped before reaching a sink",
	}, []string{"sink", "reason"})
)

func init() {
	prometheus.MustRegister(BootstrapOutcomes)
	prometheus.MustRegister(BootstrapDuration)
	prometheus.MustRegister(CallbackResults)
	prometheus.MustRegister(LoginRedirects)
	prometheus.MustRegister(TokenRefreshes)
	prometheus.MustRegister(BrowserSessions)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(Extractions)
	prometheus.MustRegister(ExtractionFieldsMissing)
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditEventsDropped)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
