package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
)

// StatusCounter reports the number of records per housekeeping status.
// *store.Store implements it.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[housekeeping.Status]int64, error)
}

// BacklogMetrics holds the housekeeping record backlog gauges.
type BacklogMetrics struct {
	// Records tracks the number of housekeeping records.
	// Labels: status
	Records *prometheus.GaugeVec

	// LastScan is the unix time of the last successful backlog scan.
	LastScan prometheus.Gauge
}

// NewBacklogMetrics creates backlog metrics registered with the default registry.
func NewBacklogMetrics() *BacklogMetrics {
	return NewBacklogMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewBacklogMetricsWithRegistry creates backlog metrics registered with a
// custom registry.
func NewBacklogMetricsWithRegistry(reg prometheus.Registerer) *BacklogMetrics {
	records := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "housekeeper",
			Subsystem: "store",
			Name:      "records",
			Help:      "Number of housekeeping records by status.",
		},
		[]string{"status"},
	)
	lastScan := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "housekeeper",
			Subsystem: "store",
			Name:      "last_backlog_scan_timestamp_seconds",
			Help:      "Unix time of the last successful backlog scan.",
		},
	)

	reg.MustRegister(records)
	reg.MustRegister(lastScan)

	return &BacklogMetrics{Records: records, LastScan: lastScan}
}

// RecordCounts sets the per-status gauges. Statuses absent from counts are
// reported as zero so drained backlogs do not keep stale values.
func (m *BacklogMetrics) RecordCounts(counts map[housekeeping.Status]int64) {
	for _, st := range allStatuses {
		m.Records.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

var allStatuses = []housekeeping.Status{
	housekeeping.StatusScheduled,
	housekeeping.StatusFailed,
	housekeeping.StatusDeleted,
	housekeeping.StatusDisabled,
	housekeeping.StatusFailedToSchedule,
}

// BacklogScanner periodically counts records per status and updates metrics.
type BacklogScanner struct {
	metrics  *BacklogMetrics
	counter  StatusCounter
	interval time.Duration
	logger   *logging.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBacklogScanner creates a scanner that refreshes backlog metrics every interval.
func NewBacklogScanner(metrics *BacklogMetrics, counter StatusCounter, interval time.Duration, logger *logging.Logger) *BacklogScanner {
	if logger == nil {
		logger = logging.Global()
	}
	return &BacklogScanner{
		metrics:  metrics,
		counter:  counter,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic backlog scanning.
func (s *BacklogScanner) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts periodic backlog scanning.
func (s *BacklogScanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *BacklogScanner) loop() {
	defer s.wg.Done()

	s.ScanOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ScanOnce()
		}
	}
}

// ScanOnce performs a single backlog scan.
func (s *BacklogScanner) ScanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counts, err := s.counter.CountByStatus(ctx)
	if err != nil {
		s.logger.Warnf("backlog scan failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	s.metrics.RecordCounts(counts)
	s.metrics.LastScan.SetToCurrentTime()
}
