// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patchbay"

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Sessions persisted to the artifact store.",
	})
	sessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_evicted_total",
		Help:      "Sessions evicted by the LRU bound.",
	})
	sessionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_deleted_total",
		Help:      "Sessions deleted on request.",
	})
	sessionsResident = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_resident",
		Help:      "Sessions currently held by the artifact store.",
	})

	// stateUpdates is labelled by result: ok, invalid, conflict or error.
	stateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "state",
		Name:      "updates_total",
		Help:      "Shared state updates by result.",
	}, []string{"result"})

	commandsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "state",
		Name:      "commands_issued_total",
		Help:      "Commands written to the shared state by class.",
	}, []string{"class"})

	compileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "compiler",
		Name:      "duration_seconds",
		Help:      "Compiler run time by outcome.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"outcome"})

	framesSummarized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "frames_summarized_total",
		Help:      "Raw spectrum frames reduced to summaries.",
	})
)

// SessionCreated records a new session and the resulting store size.
func SessionCreated(resident, evicted int) {
	sessionsCreated.Inc()
	sessionsEvicted.Add(float64(evicted))
	sessionsResident.Set(float64(resident))
}

// SessionDeleted records a deletion and the resulting store size.
func SessionDeleted(resident int) {
	sessionsDeleted.Inc()
	sessionsResident.Set(float64(resident))
}

// SetResident sets the resident sessions gauge.
func SetResident(n int) {
	sessionsResident.Set(float64(n))
}

// StateUpdate counts one state update by result.
func StateUpdate(result string) {
	stateUpdates.WithLabelValues(result).Inc()
}

// CommandIssued counts one command of the given class.
func CommandIssued(class string) {
	commandsIssued.WithLabelValues(class).Inc()
}

// CompileObserved records one compiler run.
func CompileObserved(outcome string, d time.Duration) {
	compileDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// FrameSummarized counts one reduced spectrum frame.
func FrameSummarized() {
	framesSummarized.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
