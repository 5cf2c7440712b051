package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	syncCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cryoflow",
			Subsystem: "reconcile",
			Name:      "sync_cycles_total",
			Help:      "Number of completed reconciliation cycles.",
		},
	)
	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryoflow",
			Subsystem: "reconcile",
			Name:      "status_transitions_total",
			Help:      "Job status transitions observed during reconciliation.",
		}, []string{"job_type", "from", "to"},
	)
	deletions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cryoflow",
			Subsystem: "pipeline",
			Name:      "deletions_total",
			Help:      "Number of processes moved to the trash namespace.",
		},
	)
	orphansDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cryoflow",
			Subsystem: "pipeline",
			Name:      "orphans_detected_total",
			Help:      "Downstream jobs orphaned by deletions.",
		},
	)
	runStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cryoflow",
			Subsystem: "run",
			Name:      "starts_total",
			Help:      "Number of scheduler runs started.",
		},
	)
	runStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cryoflow",
			Subsystem: "run",
			Name:      "stops_total",
			Help:      "Number of scheduler runs that ended (any exit path).",
		},
	)
	runActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cryoflow",
			Subsystem: "run",
			Name:      "active",
			Help:      "Whether a scheduler run is currently active (1 or 0).",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{syncCycles, statusTransitions, deletions, orphansDetected, runStarts, runStops, runActive}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving metrics from the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers used by internal packages; no-ops until Register is called.

func IncSyncCycle() {
	if regOK.Load() {
		syncCycles.Inc()
	}
}

func RecordStatusTransition(jobType, from, to string) {
	if regOK.Load() {
		statusTransitions.WithLabelValues(jobType, from, to).Inc()
	}
}

func IncDeletion() {
	if regOK.Load() {
		deletions.Inc()
	}
}

func AddOrphansDetected(n int) {
	if regOK.Load() && n > 0 {
		orphansDetected.Add(float64(n))
	}
}

func IncRunStart() {
	if regOK.Load() {
		runStarts.Inc()
	}
}

func IncRunStop() {
	if regOK.Load() {
		runStops.Inc()
	}
}

func SetRunActive(v bool) {
	if regOK.Load() {
		if v {
			runActive.Set(1)
		} else {
			runActive.Set(0)
		}
	}
}
