package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

const namespace = "evturnout"

// Metrics holds the ingestion and HTTP collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	RowsRead          *prometheus.CounterVec
	RowsRejected      *prometheus.CounterVec
	RecordsWritten    *prometheus.CounterVec
	AmbiguousCodes    *prometheus.CounterVec
	CycleRuns         *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	HTTPActive        prometheus.Gauge
}

// New registers every collector with reg. Passing prometheus.NewRegistry() keeps tests isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		RowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Source rows read per cycle.",
		}, []string{"year", "party"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Source rows rejected per cycle, by error kind.",
		}, []string{"year", "party", "reason"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Turnout records persisted per cycle.",
		}, []string{"year", "party"}),
		AmbiguousCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambiguous_history_codes_total",
			Help:      "History codes that are neither dem- nor rep-coded, by election.",
		}, []string{"election"}),
		CycleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_runs_total",
			Help:      "Cycle ingestions by outcome.",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one cycle ingestion.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"year", "party"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
	}
	reg.MustRegister(
		m.RowsRead, m.RowsRejected, m.RecordsWritten, m.AmbiguousCodes,
		m.CycleRuns, m.CycleDuration,
		m.HTTPRequestsTotal, m.HTTPDuration, m.HTTPActive,
	)
	return m
}

func cycleLabels(c models.Cycle) []string {
	return []string{strconv.Itoa(c.Year), string(c.Party)}
}

func (m *Metrics) ObserveRowsRead(c models.Cycle, n int) {
	if m == nil {
		return
	}
	m.RowsRead.WithLabelValues(cycleLabels(c)...).Add(float64(n))
}

func (m *Metrics) ObserveRowRejected(c models.Cycle, reason string) {
	if m == nil {
		return
	}
	m.RowsRejected.WithLabelValues(strconv.Itoa(c.Year), string(c.Party), reason).Inc()
}

func (m *Metrics) ObserveRecordsWritten(c models.Cycle, n int) {
	if m == nil {
		return
	}
	m.RecordsWritten.WithLabelValues(cycleLabels(c)...).Add(float64(n))
}

// ObserveCycle records one finished cycle. status is "done", "skipped" or "failed".
func (m *Metrics) ObserveCycle(c models.Cycle, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CycleRuns.WithLabelValues(status).Inc()
	m.CycleDuration.WithLabelValues(cycleLabels(c)...).Observe(elapsed.Seconds())
}

// AmbiguousHistoryCode satisfies normalize.Recorder.
func (m *Metrics) AmbiguousHistoryCode(election string) {
	if m == nil {
		return
	}
	m.AmbiguousCodes.WithLabelValues(election).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by the matched chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPActive.Inc()
		defer m.HTTPActive.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
