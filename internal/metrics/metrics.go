// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts committed settlements, partitioned by trade type.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlements_total",
		Help: "Total number of settled trades",
	}, []string{"trade_type"})

	// SettlementLatency tracks read-validate-commit latency.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_settlement_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"trade_type"})

	// OrderRejections counts orders rejected before commit, by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_order_rejections_total",
		Help: "Orders rejected by validation",
	}, []string{"reason"})

	// StaleSnapshotRetries counts settlements retried after a concurrent modification.
	StaleSnapshotRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_stale_snapshot_retries_total",
		Help: "Settlements retried from a fresh read",
	})

	// AwardsTotal counts not-met → awarded transitions by achievement kind.
	AwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_awards_total",
		Help: "Achievement award transitions",
	}, []string{"kind"})

	// AwardIssuance counts issuer outcomes: issued, retry, failed, dropped.
	AwardIssuance = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_award_issuance_total",
		Help: "Award issuer call outcomes",
	}, []string{"outcome"})

	// PriceLookupFailures counts quote lookups that returned no price, by source.
	PriceLookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_price_lookup_failures_total",
		Help: "Price lookups that returned no price",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps user IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
