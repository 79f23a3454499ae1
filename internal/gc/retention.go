package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
)

// Purger deletes terminal records. *store.Store implements it.
type Purger interface {
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// RetentionRecorder receives the number of purged records.
type RetentionRecorder interface {
	RecordPurged(n int64)
}

// RetentionWorkerConfig configures the retention worker.
type RetentionWorkerConfig struct {
	// ScanIntervalMs is the interval between retention sweeps in milliseconds.
	// Default: 86400000 (1 day)
	ScanIntervalMs int64

	// AgeDays is how long DELETED and DISABLED records are kept, measured
	// from their cleanup timestamp.
	// Default: 182
	AgeDays int

	Clock    housekeeping.Clock
	Recorder RetentionRecorder // optional
	Logger   *logging.Logger
}

// DefaultRetentionWorkerConfig returns default configuration.
func DefaultRetentionWorkerConfig() RetentionWorkerConfig {
	return RetentionWorkerConfig{
		ScanIntervalMs: 86400000,
		AgeDays:        182,
	}
}

// RetentionWorker periodically purges old terminal records.
type RetentionWorker struct {
	purger Purger
	config RetentionWorkerConfig
	logger *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRetentionWorker creates a new retention worker.
func NewRetentionWorker(purger Purger, config RetentionWorkerConfig) *RetentionWorker {
	if config.ScanIntervalMs <= 0 {
		config.ScanIntervalMs = 86400000
	}
	if config.AgeDays <= 0 {
		config.AgeDays = 182
	}
	if config.Clock == nil {
		config.Clock = housekeeping.SystemClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &RetentionWorker{
		purger: purger,
		config: config,
		logger: logger,
	}
}

// Start begins the retention worker background loop.
func (w *RetentionWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.run()
}

// Stop stops the retention worker and waits for completion.
func (w *RetentionWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *RetentionWorker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(time.Duration(w.config.ScanIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	ctx := context.Background()
	w.sweep(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	if _, err := w.ScanOnce(ctx); err != nil {
		w.logger.Errorf("retention sweep failed", map[string]any{"error": err.Error()})
	}
}

// Cutoff returns the instant before which terminal records are purged.
func (w *RetentionWorker) Cutoff() time.Time {
	return w.config.Clock.Now().AddDate(0, 0, -w.config.AgeDays)
}

// ScanOnce purges terminal records older than the retention age and
// returns how many were removed.
func (w *RetentionWorker) ScanOnce(ctx context.Context) (int64, error) {
	cutoff := w.Cutoff()
	n, err := w.purger.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("gc: purge records before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if w.config.Recorder != nil {
		w.config.Recorder.RecordPurged(n)
	}
	if n > 0 {
		w.logger.Infof("purged terminal records", map[string]any{
			"purged": n,
			"before": cutoff,
		})
	}
	return n, nil
}
