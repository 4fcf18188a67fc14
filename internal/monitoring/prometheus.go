package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
	apiErrorsTotal       *prometheus.CounterVec

	cacheLookups     *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	sweepsTotal      *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	sweepBatches     *prometheus.CounterVec
	prunedTotal      *prometheus.CounterVec
	trackedSymbols   *prometheus.GaugeVec
	symbolReloads    *prometheus.CounterVec
	symbolCount      prometheus.Gauge
	streamTicksTotal prometheus.Counter
	storeFallback    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_cache_lookups_total",
				Help: "Read path cache lookups by namespace and result",
			},
			[]string{"namespace", "result"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_provider_calls_total",
				Help: "Provider fetches by namespace, caller and status",
			},
			[]string{"namespace", "path", "status"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_provider_call_duration_seconds",
				Help:    "Provider fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"namespace"},
		),
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_sweeps_total",
				Help: "Refresh sweeps by outcome (completed, skipped)",
			},
			[]string{"outcome"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketpulse_sweep_duration_seconds",
				Help:    "Duration of completed refresh sweeps",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		sweepBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_sweep_batches_total",
				Help: "Sweep batches by namespace and status",
			},
			[]string{"namespace", "status"},
		),
		prunedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_pruned_symbols_total",
				Help: "Stale symbols pruned by sweeps",
			},
			[]string{"namespace"},
		),
		trackedSymbols: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_tracked_symbols",
				Help: "Symbols in the access tracker after the last sweep",
			},
			[]string{"namespace"},
		),
		symbolReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_symbol_reloads_total",
				Help: "Bulk symbol cache reloads by status",
			},
			[]string{"status"},
		),
		symbolCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_symbol_reference_count",
				Help: "Symbols written by the last successful reload",
			},
		),
		streamTicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpulse_stream_ticks_total",
				Help: "Trades stored from the push feed",
			},
		),
		storeFallback: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_store_fallback",
				Help: "1 while the store serves from its in-memory standby",
			},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.apiErrorsTotal,
		m.cacheLookups,
		m.providerCalls,
		m.providerDuration,
		m.sweepsTotal,
		m.sweepDuration,
		m.sweepBatches,
		m.prunedTotal,
		m.trackedSymbols,
		m.symbolReloads,
		m.symbolCount,
		m.streamTicksTotal,
		m.storeFallback,
	)

	return m
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// Handler serves the registry m was created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordLookup records read path hits and misses.
func (m *Metrics) RecordLookup(namespace string, hits, misses int) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(namespace, "hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues(namespace, "miss").Add(float64(misses))
}

// RecordProviderCall records one batched provider fetch. path is "read" or "sweep".
func (m *Metrics) RecordProviderCall(namespace, path string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.providerCalls.WithLabelValues(namespace, path, status).Inc()
	m.providerDuration.WithLabelValues(namespace).Observe(d.Seconds())
}

// RecordSweep records a completed sweep, or a skipped one when another held the lock.
func (m *Metrics) RecordSweep(d time.Duration, skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		m.sweepsTotal.WithLabelValues("skipped").Inc()
		return
	}
	m.sweepsTotal.WithLabelValues("completed").Inc()
	m.sweepDuration.Observe(d.Seconds())
}

// RecordSweepBatch records the outcome of one sweep batch.
func (m *Metrics) RecordSweepBatch(namespace string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sweepBatches.WithLabelValues(namespace, status).Inc()
}

// RecordPruned records symbols dropped as stale and the tracker size left behind.
func (m *Metrics) RecordPruned(namespace string, pruned, remaining int) {
	if m == nil {
		return
	}
	m.prunedTotal.WithLabelValues(namespace).Add(float64(pruned))
	m.trackedSymbols.WithLabelValues(namespace).Set(float64(remaining))
}

// RecordSymbolReload records a bulk symbol cache reload.
func (m *Metrics) RecordSymbolReload(count int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.symbolReloads.WithLabelValues("error").Inc()
		return
	}
	m.symbolReloads.WithLabelValues("ok").Inc()
	m.symbolCount.Set(float64(count))
}

// RecordStreamTick counts a trade stored from the push feed.
func (m *Metrics) RecordStreamTick() {
	if m == nil {
		return
	}
	m.streamTicksTotal.Inc()
}

// SetStoreFallback records whether the store is on its in-memory standby.
func (m *Metrics) SetStoreFallback(inFallback bool) {
	if m == nil {
		return
	}
	if inFallback {
		m.storeFallback.Set(1)
		return
	}
	m.storeFallback.Set(0)
}
