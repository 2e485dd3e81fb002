package obs

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client-side metrics for the session core.
var (
	sessionAuthenticated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crewdesk_session_authenticated",
		Help: "Whether the client currently holds an authenticated session (0 or 1).",
	})

	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewdesk_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	retryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewdesk_retry_attempts_total",
			Help: "Retry attempts performed by the resilience wrapper, per operation.",
		},
		[]string{"operation"},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crewdesk_provider_request_duration_seconds",
			Help:    "Provider call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "status"},
	)
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(sessionAuthenticated, tokenRefreshTotal, retryAttemptsTotal, providerRequestDuration)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetSessionAuthenticated mirrors the session store's authenticated flag.
func SetSessionAuthenticated(on bool) {
	if on {
		sessionAuthenticated.Set(1)
		return
	}
	sessionAuthenticated.Set(0)
}

// CountTokenRefresh records a refresh outcome: "success", "failure" or
// "forced_logout".
func CountTokenRefresh(outcome string) {
	tokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// CountRetryAttempt records one retry performed for the named operation.
func CountRetryAttempt(operation string) {
	retryAttemptsTotal.WithLabelValues(operation).Inc()
}

// ObserveProviderRequest records latency for a provider call.
func ObserveProviderRequest(provider, operation string, status int, d time.Duration) {
	providerRequestDuration.WithLabelValues(provider, operation, StatusClass(status)).Observe(d.Seconds())
}

// StatusClass collapses an HTTP status into its class label ("2xx", "4xx",
// ...). Zero means the request never produced a response.
func StatusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return fmt.Sprintf("%dxx", status/100)
}
