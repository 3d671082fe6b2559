// Package metrics exposes Prometheus collectors for the settlement pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

var (
	// Registry holds the settlement collectors.
	Registry = prometheus.NewRegistry()

	signingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_attempts_total",
			Help:      "Signing attempts by terminal state.",
		},
		[]string{"outcome"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settled intents by payment path and confirmation.",
		},
		[]string{"path", "confirmed"},
	)

	fallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Contributions that fell back to a direct transfer.",
		},
	)

	duplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Settlement notifications ignored as duplicates.",
		},
	)

	confirmDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_duration_seconds",
			Help:      "Time from broadcast to confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Query server requests.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(
		signingAttempts,
		settlements,
		fallbacks,
		duplicates,
		confirmDuration,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSigningAttempt counts one signing attempt ending in outcome.
func RecordSigningAttempt(outcome string) {
	signingAttempts.WithLabelValues(outcome).Inc()
}

// RecordSettlement counts one settled intent.
func RecordSettlement(path string, confirmed bool) {
	settlements.WithLabelValues(path, strconv.FormatBool(confirmed)).Inc()
}

// RecordFallback counts one on-chain to direct transfer fallback.
func RecordFallback() { fallbacks.Inc() }

// RecordDuplicate counts one ignored duplicate notification.
func RecordDuplicate() { duplicates.Inc() }

// ObserveConfirmDuration records how long confirmation took.
func ObserveConfirmDuration(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	confirmDuration.Observe(d.Seconds())
}

// InstrumentHandler counts requests served by next.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(strings.ToUpper(r.Method), canonicalPath(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath drops path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "/"
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}
