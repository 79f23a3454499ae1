package gc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dray-io/housekeeper/internal/cleanup"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
)

type fakeCycler struct {
	lifecycle housekeeping.LifecycleType
	err       error

	mu    sync.Mutex
	calls int
}

func (c *fakeCycler) RunCycle(ctx context.Context) (cleanup.CycleReport, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return cleanup.CycleReport{LifecycleType: c.lifecycle}, c.err
}

func (c *fakeCycler) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCleanupWorker_ScanOnce_RunsEveryEngine(t *testing.T) {
	failing := &fakeCycler{lifecycle: housekeeping.LifecycleExpired, err: errors.New("database is locked")}
	ok := &fakeCycler{lifecycle: housekeeping.LifecycleUnreferenced}
	worker := NewCleanupWorker([]Cycler{failing, ok}, CleanupWorkerConfig{Logger: logging.Nop()})

	err := worker.ScanOnce(context.Background())
	if err == nil {
		t.Fatal("expected the failing cycle's error")
	}
	if ok.Calls() != 1 {
		t.Errorf("second engine ran %d times, want 1", ok.Calls())
	}
}

func TestCleanupWorker_ScanOnce_StopsWhenCancelled(t *testing.T) {
	c := &fakeCycler{lifecycle: housekeeping.LifecycleExpired}
	worker := NewCleanupWorker([]Cycler{c}, CleanupWorkerConfig{Logger: logging.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := worker.ScanOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("ScanOnce error = %v, want context.Canceled", err)
	}
	if c.Calls() != 0 {
		t.Errorf("cycle ran after cancellation")
	}
}

func TestCleanupWorker_StartStop(t *testing.T) {
	c := &fakeCycler{lifecycle: housekeeping.LifecycleExpired}
	worker := NewCleanupWorker([]Cycler{c}, CleanupWorkerConfig{ScanIntervalMs: 10, Logger: logging.Nop()})

	worker.Start()
	worker.Start() // no-op

	deadline := time.Now().Add(2 * time.Second)
	for c.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	worker.Stop()
	worker.Stop() // no-op

	if c.Calls() < 2 {
		t.Fatalf("expected at least 2 cycles, got %d", c.Calls())
	}
	after := c.Calls()
	time.Sleep(30 * time.Millisecond)
	if c.Calls() != after {
		t.Error("cycles kept running after Stop")
	}
}

func TestCleanupWorker_Defaults(t *testing.T) {
	worker := NewCleanupWorker(nil, CleanupWorkerConfig{})
	if worker.config.ScanIntervalMs != DefaultCleanupWorkerConfig().ScanIntervalMs {
		t.Errorf("ScanIntervalMs = %d", worker.config.ScanIntervalMs)
	}
}
