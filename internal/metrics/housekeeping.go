package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/housekeeper/internal/cleanup"
	"github.com/dray-io/housekeeper/internal/gc"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/scheduler"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Cleanup mode label values.
const (
	ModeLive   = "live"
	ModeDryRun = "dry_run"
)

// Per-record cleanup result label values.
const (
	ResultDeleted = "deleted"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// DefaultCycleDurationBuckets covers cleanup cycles from a second to an hour.
var DefaultCycleDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}

// HousekeepingMetrics holds scheduling, cleanup and retention metrics.
// It satisfies scheduler.Recorder, cleanup.Recorder and gc.RetentionRecorder.
type HousekeepingMetrics struct {
	// ScheduledTotal counts scheduling attempts.
	// Labels: lifecycle, outcome (scheduled, skipped, failed)
	ScheduledTotal *prometheus.CounterVec

	// CyclesTotal counts completed cleanup cycles.
	// Labels: lifecycle, mode (live, dry_run)
	CyclesTotal *prometheus.CounterVec

	// CycleDuration tracks cleanup cycle wall time in seconds.
	// Labels: lifecycle, mode
	CycleDuration *prometheus.HistogramVec

	// RecordsTotal counts records handled by cleanup cycles.
	// Labels: lifecycle, mode, result (deleted, failed, skipped)
	RecordsTotal *prometheus.CounterVec

	// BytesDeletedTotal counts object bytes removed.
	// Labels: mode
	BytesDeletedTotal *prometheus.CounterVec

	// PurgedTotal counts terminal records removed by the retention sweep.
	PurgedTotal prometheus.Counter
}

// NewHousekeepingMetrics creates housekeeping metrics registered with the
// default registry.
func NewHousekeepingMetrics() *HousekeepingMetrics {
	return NewHousekeepingMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewHousekeepingMetricsWithRegistry creates housekeeping metrics registered
// with a custom registry.
func NewHousekeepingMetricsWithRegistry(reg prometheus.Registerer) *HousekeepingMetrics {
	m := &HousekeepingMetrics{
		ScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "housekeeper",
				Subsystem: "scheduler",
				Name:      "records_total",
				Help:      "Scheduling attempts by lifecycle type and outcome.",
			},
			[]string{"lifecycle", "outcome"},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "housekeeper",
				Subsystem: "cleanup",
				Name:      "cycles_total",
				Help:      "Completed cleanup cycles by lifecycle type and mode.",
			},
			[]string{"lifecycle", "mode"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "housekeeper",
				Subsystem: "cleanup",
				Name:      "cycle_duration_seconds",
				Help:      "Cleanup cycle duration in seconds.",
				Buckets:   DefaultCycleDurationBuckets,
			},
			[]string{"lifecycle", "mode"},
		),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "housekeeper",
				Subsystem: "cleanup",
				Name:      "records_total",
				Help:      "Records handled by cleanup cycles by lifecycle type, mode and result.",
			},
			[]string{"lifecycle", "mode", "result"},
		),
		BytesDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "housekeeper",
				Subsystem: "cleanup",
				Name:      "bytes_deleted_total",
				Help:      "Object bytes deleted, or that would be deleted in dry-run mode.",
			},
			[]string{"mode"},
		),
		PurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "housekeeper",
				Subsystem: "retention",
				Name:      "purged_records_total",
				Help:      "Terminal housekeeping records purged by the retention sweep.",
			},
		),
	}

	reg.MustRegister(m.ScheduledTotal)
	reg.MustRegister(m.CyclesTotal)
	reg.MustRegister(m.CycleDuration)
	reg.MustRegister(m.RecordsTotal)
	reg.MustRegister(m.BytesDeletedTotal)
	reg.MustRegister(m.PurgedTotal)

	return m
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return ModeDryRun
	}
	return ModeLive
}

// RecordScheduled counts one scheduling attempt.
func (m *HousekeepingMetrics) RecordScheduled(lifecycle housekeeping.LifecycleType, outcome string) {
	m.ScheduledTotal.WithLabelValues(string(lifecycle), outcome).Inc()
}

// ReportBytesDeleted adds removed object bytes.
func (m *HousekeepingMetrics) ReportBytesDeleted(bytes int64, dryRun bool) {
	if bytes <= 0 {
		return
	}
	m.BytesDeletedTotal.WithLabelValues(modeLabel(dryRun)).Add(float64(bytes))
}

// RecordCycle records the outcome of one cleanup cycle.
func (m *HousekeepingMetrics) RecordCycle(report cleanup.CycleReport, duration time.Duration) {
	lifecycle := string(report.LifecycleType)
	mode := modeLabel(report.DryRun)

	m.CyclesTotal.WithLabelValues(lifecycle, mode).Inc()
	m.CycleDuration.WithLabelValues(lifecycle, mode).Observe(duration.Seconds())
	m.RecordsTotal.WithLabelValues(lifecycle, mode, ResultDeleted).Add(float64(report.Deleted))
	m.RecordsTotal.WithLabelValues(lifecycle, mode, ResultFailed).Add(float64(report.Failed))
	m.RecordsTotal.WithLabelValues(lifecycle, mode, ResultSkipped).Add(float64(report.Skipped))
}

// RecordPurged adds purged terminal records.
func (m *HousekeepingMetrics) RecordPurged(n int64) {
	if n <= 0 {
		return
	}
	m.PurgedTotal.Add(float64(n))
}

var (
	_ scheduler.Recorder   = (*HousekeepingMetrics)(nil)
	_ cleanup.Recorder     = (*HousekeepingMetrics)(nil)
	_ gc.RetentionRecorder = (*HousekeepingMetrics)(nil)
)
