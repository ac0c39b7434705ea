// Package metrics exposes the Prometheus collectors olav's components
// record against, plus the HTTP instrumentation middleware for the control
// surface.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/olavhq/olav/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds olav's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "olav",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight control-surface HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "olav",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of control-surface HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "olav",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of control-surface HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	capabilityExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "olav",
		Subsystem: "fleet",
		Name:      "executions_total",
		Help:      "Total number of run_capability and run_ops_command executions.",
	}, []string{"capability", "status"})

	capabilityDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "olav",
		Subsystem: "fleet",
		Name:      "execution_duration_seconds",
		Help:      "Duration of capability executions against a single device.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"capability", "status"})

	inspectionRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "olav",
		Subsystem: "inspection",
		Name:      "runs_total",
		Help:      "Total number of inspection plans executed.",
	}, []string{"tier"})

	inspectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "olav",
		Subsystem: "inspection",
		Name:      "run_duration_seconds",
		Help:      "Duration of an inspection Map+Reduce pass.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"tier"})

	poolConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "olav",
		Subsystem: "fleet",
		Name:      "pool_connections",
		Help:      "Current device connections by state.",
	}, []string{"state"})

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		capabilityExecutions,
		capabilityDuration,
		inspectionRuns,
		inspectionDuration,
		poolConnections,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCapabilityExecution records a single device-capability execution.
func RecordCapabilityExecution(capability, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	capabilityExecutions.WithLabelValues(capability, status).Inc()
	capabilityDuration.WithLabelValues(capability, status).Observe(duration.Seconds())
}

// RecordInspectionRun records a completed inspection plan with its overall tier.
func RecordInspectionRun(tier string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	inspectionRuns.WithLabelValues(tier).Inc()
	inspectionDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// SetPoolConnections reports the current connection count for a pool state
// (disconnected, connecting, ready, awaiting, dead).
func SetPoolConnections(state string, count int) {
	poolConnections.WithLabelValues(state).Set(float64(count))
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks builds core.ObservationHooks backed by Prometheus metrics,
// keyed by namespace/subsystem/name so repeated calls reuse one collector.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			collector.gauge.WithLabelValues(metaLabel(meta)).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name + "_in_flight",
		Help:      "Current operations in flight for " + subsystem,
	}, []string{"resource"})
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name + "_duration_seconds",
		Help:      "Duration of operations for " + subsystem,
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"resource", "status"})
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["device"]; ok && id != "" {
		return id
	}
	if id, ok := meta["capability"]; ok && id != "" {
		return id
	}
	if id, ok := meta["thread_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "threads" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/threads"
	}
	return "/threads/:id"
}
