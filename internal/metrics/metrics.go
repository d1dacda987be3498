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

	created = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "resultset",
			Subsystem: "registry",
			Name:      "created_total",
			Help:      "Number of result sets created.",
		},
	)
	lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultset",
			Subsystem: "registry",
			Name:      "lookups_total",
			Help:      "Number of result set lookups by outcome (hit, miss, error).",
		}, []string{"result"},
	)
	evicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "resultset",
			Subsystem: "sweeper",
			Name:      "evicted_total",
			Help:      "Number of result sets removed by the sweeper.",
		},
	)
	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultset",
			Subsystem: "sweeper",
			Name:      "sweeps_total",
			Help:      "Number of sweep passes by outcome (ok, error).",
		}, []string{"result"},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "resultset",
			Subsystem: "sweeper",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a sweep pass, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	reconfigures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultset",
			Subsystem: "config",
			Name:      "reconfigure_total",
			Help:      "Number of reconfiguration attempts by outcome (ok, error).",
		}, []string{"result"},
	)
	migratedRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "resultset",
			Subsystem: "config",
			Name:      "migrated_rows_total",
			Help:      "Number of index rows copied into a new store during reconfiguration.",
		},
	)
	activeEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "resultset",
			Subsystem: "registry",
			Name:      "active_entries",
			Help:      "Index rows remaining after the last sweep.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{created, lookups, evicted, sweeps, sweepDuration, reconfigures, migratedRows, activeEntries}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCreated() {
	if regOK.Load() {
		created.Inc()
	}
}

// Lookup outcomes.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

func IncLookup(result string) {
	if regOK.Load() {
		lookups.WithLabelValues(result).Inc()
	}
}

func AddEvicted(n int) {
	if regOK.Load() && n > 0 {
		evicted.Add(float64(n))
	}
}

func ObserveSweep(seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	sweepDuration.Observe(seconds)
	sweeps.WithLabelValues(outcome(err)).Inc()
}

func IncReconfigure(err error) {
	if regOK.Load() {
		reconfigures.WithLabelValues(outcome(err)).Inc()
	}
}

func AddMigrated(n int) {
	if regOK.Load() && n > 0 {
		migratedRows.Add(float64(n))
	}
}

func SetActiveEntries(n int) {
	if regOK.Load() {
		activeEntries.Set(float64(n))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
