package gc

import (
	"context"
	"testing"
	"time"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/store"
)

var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

type purgeCounter struct {
	total int64
}

func (p *purgeCounter) RecordPurged(n int64) { p.total += n }

func addRecord(t *testing.T, s *store.Store, table string, status housekeeping.Status, cleanupAt time.Time) int64 {
	t.Helper()
	e := &housekeeping.Entity{
		Path:              "s3://bucket/" + table,
		DatabaseName:      "db",
		TableName:         table,
		Status:            status,
		LifecycleType:     housekeeping.LifecycleExpired,
		CleanupDelay:      housekeeping.Days(1),
		CreationTimestamp: cleanupAt.AddDate(0, 0, -1),
		CleanupTimestamp:  cleanupAt,
	}
	if err := s.Create(context.Background(), e); err != nil {
		t.Fatalf("Create(%s): %v", table, err)
	}
	return e.ID
}

func TestRetentionWorker_ScanOnce_PurgesOldTerminalRecords(t *testing.T) {
	ctx := context.Background()
	clock := housekeeping.NewManualClock(testNow)
	s, err := store.OpenInMemory(ctx, clock)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	old := testNow.AddDate(0, 0, -200)
	recent := testNow.AddDate(0, 0, -10)
	oldDeleted := addRecord(t, s, "old_deleted", housekeeping.StatusDeleted, old)
	oldDisabled := addRecord(t, s, "old_disabled", housekeeping.StatusDisabled, old)
	oldFailed := addRecord(t, s, "old_failed", housekeeping.StatusFailed, old)
	recentDeleted := addRecord(t, s, "recent_deleted", housekeeping.StatusDeleted, recent)

	counter := &purgeCounter{}
	worker := NewRetentionWorker(s, RetentionWorkerConfig{
		AgeDays:  182,
		Clock:    clock,
		Recorder: counter,
		Logger:   logging.Nop(),
	})

	n, err := worker.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("ScanOnce failed: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d records, want 2", n)
	}
	if counter.total != 2 {
		t.Errorf("recorder saw %d, want 2", counter.total)
	}

	for _, id := range []int64{oldDeleted, oldDisabled} {
		if _, err := s.Get(ctx, id); err == nil {
			t.Errorf("record %d should have been purged", id)
		}
	}
	for _, id := range []int64{oldFailed, recentDeleted} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Errorf("record %d should remain: %v", id, err)
		}
	}
}

func TestRetentionWorker_Cutoff(t *testing.T) {
	clock := housekeeping.NewManualClock(testNow)
	worker := NewRetentionWorker(nil, RetentionWorkerConfig{AgeDays: 30, Clock: clock})

	if got, want := worker.Cutoff(), testNow.AddDate(0, 0, -30); !got.Equal(want) {
		t.Errorf("Cutoff() = %v, want %v", got, want)
	}
}

func TestRetentionWorker_Defaults(t *testing.T) {
	worker := NewRetentionWorker(nil, RetentionWorkerConfig{})
	def := DefaultRetentionWorkerConfig()
	if worker.config.AgeDays != def.AgeDays || worker.config.ScanIntervalMs != def.ScanIntervalMs {
		t.Errorf("defaults not applied: %+v", worker.config)
	}
}
