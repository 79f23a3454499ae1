package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/guard"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/store"
)

const (
	dbName    = "database"
	tableName = "table"
	tablePath = "s3://bucket/table"
)

var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	clock   *housekeeping.ManualClock
	catalog *catalog.MockCatalog
	service *Service
	counts  *countingRecorder
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordScheduled(lifecycle housekeeping.LifecycleType, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[string(lifecycle)+"/"+outcome]++
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := housekeeping.NewManualClock(testNow)
	st, err := store.OpenInMemory(context.Background(), clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cat := catalog.NewMockCatalog()
	rec := &countingRecorder{counts: make(map[string]int)}
	svc := NewService(ServiceConfig{
		Schedulers: []Scheduler{
			NewExpiredScheduler(ExpiredConfig{Store: st, Catalog: cat, Logger: logging.Nop()}),
			NewUnreferencedScheduler(UnreferencedConfig{Store: st, Logger: logging.Nop()}),
		},
		Guard:    guard.NewIcebergGuard(cat),
		Recorder: rec,
		Logger:   logging.Nop(),
	})
	return &fixture{store: st, clock: clock, catalog: cat, service: svc, counts: rec}
}

func expiredTable(delay housekeeping.Period) housekeeping.Entity {
	return housekeeping.Entity{
		Path:          tablePath,
		DatabaseName:  dbName,
		TableName:     tableName,
		Status:        housekeeping.StatusScheduled,
		LifecycleType: housekeeping.LifecycleExpired,
		CleanupDelay:  delay,
		ClientID:      "scheduler-apiary",
	}
}

func expiredPartition(name string, delay housekeeping.Period) housekeeping.Entity {
	e := expiredTable(delay)
	e.Path = tablePath + "/" + name
	e.PartitionName = housekeeping.Partition(name)
	return e
}

func (f *fixture) records(t *testing.T) []housekeeping.Entity {
	t.Helper()
	records, err := f.store.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	return records
}

func (f *fixture) history(t *testing.T) []housekeeping.HistoryEntry {
	t.Helper()
	h, err := f.store.History(context.Background(), dbName, tableName)
	require.NoError(t, err)
	return h
}

func TestScheduleNewTable(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{Location: tablePath})

	require.NoError(t, f.service.Schedule(context.Background(), []housekeeping.Entity{expiredTable(housekeeping.Days(3))}))

	records := f.records(t)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, housekeeping.StatusScheduled, got.Status)
	assert.Equal(t, testNow, got.CreationTimestamp)
	assert.Equal(t, testNow.AddDate(0, 0, 3), got.CleanupTimestamp)
	assert.Zero(t, got.CleanupAttempts)

	history := f.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, housekeeping.StatusScheduled, history[0].Status)
	assert.Equal(t, 1, f.counts.counts["EXPIRED/scheduled"])
}

func TestScheduleTableFansOutToPartitions(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{
		Location: tablePath,
		Partitions: map[string]string{
			"event_date=2020-01-01/event_hour=0/event_type=A": tablePath + "/event_date=2020-01-01/event_hour=0/event_type=A",
			"event_date=2020-01-01/event_hour=1/event_type=B": tablePath + "/event_date=2020-01-01/event_hour=1/event_type=B",
			"event_date=2020-01-01/event_hour=3/event_type=C": tablePath + "/event_date=2020-01-01/event_hour=3/event_type=C",
		},
	})

	require.NoError(t, f.service.Schedule(context.Background(), []housekeeping.Entity{expiredTable(housekeeping.Days(3))}))

	records := f.records(t)
	require.Len(t, records, 4)
	partitions := 0
	for _, r := range records {
		assert.Equal(t, housekeeping.Days(3), r.CleanupDelay)
		assert.Equal(t, "scheduler-apiary", r.ClientID)
		if !r.IsTable() {
			partitions++
			assert.Equal(t, tablePath+"/"+*r.PartitionName, r.Path)
		}
	}
	assert.Equal(t, 3, partitions)
	assert.Len(t, f.history(t), 4)
}

func TestScheduleTableUpdatesExistingPartitionsAndAddsNewOnes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const partA = "event_date=2020-01-01/event_hour=0/event_type=A"
	const partB = "event_date=2020-01-01/event_hour=1/event_type=B"
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{Location: tablePath})

	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{
		expiredTable(housekeeping.MustParsePeriod("P4M")),
		expiredPartition(partA, housekeeping.MustParsePeriod("P4M")),
	}))
	partition := expiredPartition(partA, housekeeping.Days(3))
	existing, err := f.store.FindActive(ctx, partition.Key())
	require.NoError(t, err)

	f.catalog.AddPartition(dbName, tableName, partA, tablePath+"/"+partA)
	f.catalog.AddPartition(dbName, tableName, partB, tablePath+"/"+partB)
	f.clock.Advance(time.Hour)
	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{expiredTable(housekeeping.Days(3))}))

	records := f.records(t)
	require.Len(t, records, 3)

	updated, err := f.store.FindActive(ctx, existing.Key())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, updated.ID)
	assert.Equal(t, housekeeping.Days(3), updated.CleanupDelay)
	assert.Equal(t, testNow.AddDate(0, 0, 3), updated.CleanupTimestamp)

	// 2 from the first event, 3 from the second.
	assert.Len(t, f.history(t), 5)
}

func TestScheduleMergePreservesIdentityAndCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{Location: tablePath})

	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{expiredTable(housekeeping.Days(3))}))
	first := f.records(t)[0]

	f.clock.Advance(24 * time.Hour)
	again := expiredTable(housekeeping.Days(30))
	again.Path = "s3://bucket/table-v2"
	again.ClientID = "other-client"
	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{again}))

	records := f.records(t)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, testNow, got.CreationTimestamp)
	assert.Equal(t, testNow.Add(24*time.Hour), got.ModifiedTimestamp)
	assert.Equal(t, testNow.AddDate(0, 0, 30), got.CleanupTimestamp)
	assert.Equal(t, "s3://bucket/table-v2", got.Path)
	assert.Equal(t, "other-client", got.ClientID)
}

func TestScheduleTableNeverDueBeforeItsPartitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{Location: tablePath})

	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{
		expiredTable(housekeeping.Days(3)),
		expiredPartition("dt=2020-01-01", housekeeping.Days(30)),
	}))

	f.clock.Advance(time.Hour)
	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{expiredTable(housekeeping.Hours(3))}))

	key := expiredTable(housekeeping.Days(3))
	table, err := f.store.FindActive(ctx, key.Key())
	require.NoError(t, err)
	assert.Equal(t, housekeeping.Hours(3), table.CleanupDelay)
	assert.Equal(t, testNow.AddDate(0, 0, 30), table.CleanupTimestamp)
}

func TestScheduleTableRaisedToPartitionAddedLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{Location: tablePath})
	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{expiredTable(housekeeping.Days(30))}))

	f.clock.Advance(10 * 24 * time.Hour)
	f.catalog.AddPartition(dbName, tableName, "dt=1", tablePath+"/dt=1")
	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{expiredTable(housekeeping.Days(30))}))

	tableKey := expiredTable(housekeeping.Days(30))
	table, err := f.store.FindActive(ctx, tableKey.Key())
	require.NoError(t, err)
	partitionKey := expiredPartition("dt=1", housekeeping.Days(30))
	partition, err := f.store.FindActive(ctx, partitionKey.Key())
	require.NoError(t, err)

	want := testNow.AddDate(0, 0, 40)
	assert.True(t, want.Equal(partition.CleanupTimestamp), "partition cleanup %s", partition.CleanupTimestamp)
	assert.True(t, want.Equal(table.CleanupTimestamp), "table cleanup %s", table.CleanupTimestamp)
	assert.False(t, table.Due(want.Add(-time.Second)))
	// Raising the table adds no history entry of its own.
	assert.Len(t, f.history(t), 3)
}

func TestScheduleMergeResetsFailedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{Location: tablePath})
	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{expiredTable(housekeeping.Days(3))}))

	rec := f.records(t)[0]
	rec.Status = housekeeping.StatusFailed
	rec.CleanupAttempts = 4
	require.NoError(t, f.store.Update(ctx, &rec))

	require.NoError(t, f.service.Schedule(ctx, []housekeeping.Entity{expiredTable(housekeeping.Days(3))}))

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, housekeeping.StatusScheduled, got.Status)
	assert.Equal(t, 4, got.CleanupAttempts)
}

func TestScheduleSkipsIcebergTables(t *testing.T) {
	tests := []struct {
		name  string
		table catalog.MockTable
	}{
		{"table_type", catalog.MockTable{Properties: map[string]string{"table_type": "ICEBERG"}}},
		{"format", catalog.MockTable{Properties: map[string]string{"format": "iceberg/parquet"}}},
		{"output format", catalog.MockTable{OutputFormat: "org.apache.iceberg.mr.hive.HiveIcebergOutputFormat"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.table.Partitions = map[string]string{"dt=1": tablePath + "/dt=1"}
			f.catalog.AddTable(dbName, tableName, tc.table)

			err := f.service.Schedule(context.Background(), []housekeeping.Entity{expiredTable(housekeeping.Days(3))})

			require.NoError(t, err)
			assert.Empty(t, f.records(t))
			assert.Empty(t, f.history(t))
			assert.Equal(t, 1, f.counts.counts["EXPIRED/skipped"])
		})
	}
}

func TestScheduleIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{Location: tablePath})

	bad := expiredTable(housekeeping.Days(3))
	bad.TableName = "other"
	bad.LifecycleType = "ORPHANED"
	good := housekeeping.Entity{
		Path:          tablePath + "/old-location",
		DatabaseName:  dbName,
		TableName:     tableName,
		Status:        housekeeping.StatusScheduled,
		LifecycleType: housekeeping.LifecycleUnreferenced,
		CleanupDelay:  housekeeping.Days(3),
	}

	err := f.service.Schedule(context.Background(), []housekeeping.Entity{bad, good})
	require.Error(t, err)

	var schedErr *SchedulingError
	require.True(t, errors.As(err, &schedErr))
	assert.Equal(t, "other", schedErr.Entity.TableName)
	assert.True(t, errors.Is(err, ErrUnknownLifecycle))
	assert.Contains(t, err.Error(), "unable to schedule ORPHANED deletion for entity database.other")

	records := f.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, housekeeping.LifecycleUnreferenced, records[0].LifecycleType)
	assert.Equal(t, 1, f.counts.counts["ORPHANED/failed"])
	assert.Equal(t, 1, f.counts.counts["UNREFERENCED/scheduled"])
}

func TestScheduleGuardErrorFailsEntity(t *testing.T) {
	f := newFixture(t)
	f.catalog.Err = errors.New("metastore unavailable")

	err := f.service.Schedule(context.Background(), []housekeeping.Entity{expiredTable(housekeeping.Days(3))})

	var schedErr *SchedulingError
	require.True(t, errors.As(err, &schedErr))
	assert.False(t, errors.Is(err, guard.ErrUnsupportedFormat))
	assert.Empty(t, f.records(t))
}

func TestScheduleMissingTableSchedulesWithoutPartitions(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Schedule(context.Background(), []housekeeping.Entity{expiredTable(housekeeping.Days(3))}))
	assert.Len(t, f.records(t), 1)
}

func TestUnreferencedSchedulerDoesNotFanOut(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddTable(dbName, tableName, catalog.MockTable{
		Location:   tablePath,
		Partitions: map[string]string{"dt=1": tablePath + "/dt=1"},
	})
	e := housekeeping.Entity{
		Path:          "s3://bucket/table/old",
		DatabaseName:  dbName,
		TableName:     tableName,
		LifecycleType: housekeeping.LifecycleUnreferenced,
		CleanupDelay:  housekeeping.Days(3),
	}

	require.NoError(t, f.service.Schedule(context.Background(), []housekeeping.Entity{e}))

	records := f.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, housekeeping.StatusScheduled, records[0].Status)
	assert.Equal(t, "s3://bucket/table/old", records[0].Path)
}
