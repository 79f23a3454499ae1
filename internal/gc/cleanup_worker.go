package gc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dray-io/housekeeper/internal/cleanup"
	"github.com/dray-io/housekeeper/internal/logging"
)

// Cycler runs one cleanup cycle. *cleanup.Engine implements it.
type Cycler interface {
	RunCycle(ctx context.Context) (cleanup.CycleReport, error)
}

// CleanupWorkerConfig configures the cleanup worker.
type CleanupWorkerConfig struct {
	// ScanIntervalMs is the interval between cleanup cycles in milliseconds.
	// Default: 300000 (5 minutes)
	ScanIntervalMs int64

	Logger *logging.Logger
}

// DefaultCleanupWorkerConfig returns a default configuration.
func DefaultCleanupWorkerConfig() CleanupWorkerConfig {
	return CleanupWorkerConfig{
		ScanIntervalMs: 300000, // 5 minutes
	}
}

// CleanupWorker periodically runs cleanup cycles for each lifecycle
// engine, one engine after the other.
type CleanupWorker struct {
	cyclers []Cycler
	config  CleanupWorkerConfig
	logger  *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewCleanupWorker creates a new cleanup worker.
func NewCleanupWorker(cyclers []Cycler, config CleanupWorkerConfig) *CleanupWorker {
	if config.ScanIntervalMs <= 0 {
		config.ScanIntervalMs = 300000
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &CleanupWorker{
		cyclers: cyclers,
		config:  config,
		logger:  logger,
	}
}

// Start begins the cleanup worker background loop.
func (w *CleanupWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop cancels the running cycle and waits for the record in flight to
// finish.
func (w *CleanupWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *CleanupWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(time.Duration(w.config.ScanIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	_ = w.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs one cycle per engine. A failed cycle does not prevent the
// next engine from running; cancellation does. The returned error joins
// the cycle errors.
func (w *CleanupWorker) ScanOnce(ctx context.Context) error {
	var errs []error
	for _, c := range w.cyclers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := c.RunCycle(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				w.logger.Errorf("cleanup cycle failed", map[string]any{
					"lifecycle": string(report.LifecycleType),
					"error":     err.Error(),
				})
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
