// Package metrics holds the Prometheus collectors for snapshot and restore
// runs. Collectors live on a private registry; a scheduled or one-shot run
// exports them through the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tabsnap"

type Metrics struct {
	reg *prometheus.Registry

	snapshotsCreated  prometheus.Counter
	snapshotsFailed   prometheus.Counter
	recordsExported   prometheus.Counter
	snapshotDuration  prometheus.Histogram
	lastSnapshotSize  prometheus.Gauge
	lastSnapshotTime  prometheus.Gauge
	recordsRestored   prometheus.Counter
	restoreErrors     *prometheus.CounterVec
	rotationDeletions prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		snapshotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_created_total",
			Help:      "Snapshots written successfully.",
		}),
		snapshotsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_failed_total",
			Help:      "Snapshot attempts that did not produce a file.",
		}),
		recordsExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_exported_total",
			Help:      "Records written into snapshots.",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Time taken to write a snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		lastSnapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_snapshot_size_bytes",
			Help:      "Size of the most recent snapshot file.",
		}),
		lastSnapshotTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_snapshot_timestamp_seconds",
			Help:      "Unix time of the most recent successful snapshot.",
		}),
		recordsRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_restored_total",
			Help:      "Records upserted by restore runs.",
		}),
		restoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_table_errors_total",
			Help:      "Tables that failed to restore.",
		}, []string{"table"}),
		rotationDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotation_deletions_total",
			Help:      "Snapshot files removed by rotation.",
		}),
	}

	m.reg.MustRegister(
		m.snapshotsCreated,
		m.snapshotsFailed,
		m.recordsExported,
		m.snapshotDuration,
		m.lastSnapshotSize,
		m.lastSnapshotTime,
		m.recordsRestored,
		m.restoreErrors,
		m.rotationDeletions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) SnapshotCreated(records int, sizeBytes int64, took time.Duration, at time.Time) {
	m.snapshotsCreated.Inc()
	m.recordsExported.Add(float64(records))
	m.snapshotDuration.Observe(took.Seconds())
	m.lastSnapshotSize.Set(float64(sizeBytes))
	m.lastSnapshotTime.Set(float64(at.Unix()))
}

func (m *Metrics) SnapshotFailed() {
	m.snapshotsFailed.Inc()
}

func (m *Metrics) Restored(records int, failedTables []string) {
	m.recordsRestored.Add(float64(records))
	for _, table := range failedTables {
		m.restoreErrors.WithLabelValues(table).Inc()
	}
}

func (m *Metrics) Rotated(deleted int) {
	m.rotationDeletions.Add(float64(deleted))
}

// WriteTextfile writes every collector to path in the text exposition
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
