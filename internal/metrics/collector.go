// Package metrics provides internal metrics collection for the migration
// engine. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and updates the engine's prometheus metrics. A nil
// *Collector is a valid no-op so callers never have to branch on whether
// metrics are enabled.
type Collector struct {
	migrationsTotal   *prometheus.CounterVec
	migrationDuration *prometheus.HistogramVec
	documentsAffected prometheus.Counter
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	backupsTotal      *prometheus.CounterVec
	safetyBlockers    prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a collector under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Total number of migration executions by direction and outcome",
		},
		[]string{"direction", "status"},
	)

	c.migrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_duration_seconds",
			Help:      "Duration of individual migration executions",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	c.documentsAffected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_affected_total",
			Help:      "Total number of documents modified by migrations",
		},
	)

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runner invocations by outcome",
		},
		[]string{"status"},
	)

	c.runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of whole runner invocations",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	c.backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Total number of backup attempts by outcome",
		},
		[]string{"status"},
	)

	c.safetyBlockers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_blockers_total",
			Help:      "Total number of runs halted by safety blockers",
		},
	)

	return c
}

// ObserveMigration records one migration execution.
func (c *Collector) ObserveMigration(direction, status string, duration time.Duration, documentsAffected int64) {
	if c == nil {
		return
	}
	c.migrationsTotal.WithLabelValues(direction, status).Inc()
	c.migrationDuration.WithLabelValues(direction).Observe(duration.Seconds())
	if documentsAffected > 0 {
		c.documentsAffected.Add(float64(documentsAffected))
	}
}

// ObserveRun records one whole runner invocation.
func (c *Collector) ObserveRun(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// ObserveBackup records one backup attempt.
func (c *Collector) ObserveBackup(status string) {
	if c == nil {
		return
	}
	c.backupsTotal.WithLabelValues(status).Inc()
}

// ObserveSafetyBlock records a run halted by safety blockers.
func (c *Collector) ObserveSafetyBlock() {
	if c == nil {
		return
	}
	c.safetyBlockers.Inc()
}
