package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Payment metrics
	TopupsTotal         *prometheus.CounterVec
	WebhooksTotal       *prometheus.CounterVec
	CreditsSettledTotal prometheus.Counter
	StalePendingTopups  prometheus.Gauge
	ProviderDuration    prometheus.Histogram

	// Subscription metrics
	PlanPurchasesTotal *prometheus.CounterVec
	QuotaDenialsTotal  *prometheus.CounterVec
	ExpirationsTotal   *prometheus.CounterVec
	PredictionsTotal   *prometheus.CounterVec
	PredictCacheTotal  *prometheus.CounterVec

	// Rate limiting
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Database pool
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		TopupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_topups_total",
				Help: "Top-up creation attempts by outcome",
			},
			[]string{"outcome"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_webhooks_total",
				Help: "IPN deliveries by outcome",
			},
			[]string{"outcome"},
		),
		CreditsSettledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quotagate_credits_settled_total",
				Help: "Credits added to user balances by settled top-ups",
			},
		),
		StalePendingTopups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotagate_stale_pending_topups",
				Help: "Top-ups pending longer than the reconciliation threshold",
			},
		),
		ProviderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quotagate_provider_request_duration_seconds",
				Help:    "Payment provider create request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		PlanPurchasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_plan_purchases_total",
				Help: "Successful plan purchases by plan",
			},
			[]string{"plan"},
		),
		QuotaDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_quota_denials_total",
				Help: "Metered calls rejected because the quota was used up",
			},
			[]string{"plan"},
		),
		ExpirationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_subscription_expirations_total",
				Help: "Subscriptions lazily expired and replaced by FREE",
			},
			[]string{"plan"},
		),
		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_predictions_total",
				Help: "Prediction requests by status",
			},
			[]string{"status"},
		),
		PredictCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_predict_cache_total",
				Help: "Prediction cache lookups by result",
			},
			[]string{"result"},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_ratelimit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotagate_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotagate_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotagate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotagate_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.TopupsTotal,
		m.WebhooksTotal,
		m.CreditsSettledTotal,
		m.StalePendingTopups,
		m.ProviderDuration,
		m.PlanPurchasesTotal,
		m.QuotaDenialsTotal,
		m.ExpirationsTotal,
		m.PredictionsTotal,
		m.PredictCacheTotal,
		m.RateLimitRejectionsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// NewNopMetrics returns metrics registered on a private registry, for tests and
// callers that do not export metrics.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordDBStats copies database pool statistics into the pool gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the matched mux route template so that path parameters do
// not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
