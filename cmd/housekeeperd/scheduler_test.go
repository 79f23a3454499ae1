package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/events"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/metrics"
	"github.com/dray-io/housekeeper/internal/store"
)

func buildSchedulerDaemon(t *testing.T, st *store.Store, cat catalog.Catalog) *SchedulerDaemon {
	t.Helper()
	d := NewSchedulerDaemon(SchedulerOptions{
		Config:  testConfig(),
		Logger:  logging.Nop(),
		Store:   st,
		Catalog: cat,
	})
	hk := metrics.NewHousekeepingMetricsWithRegistry(prometheus.NewRegistry())
	require.NoError(t, d.buildService(context.Background(), hk))
	return d
}

func scheduleEvent(t *testing.T, d *SchedulerDaemon, payload string) error {
	t.Helper()
	ev, err := events.Decode([]byte(payload))
	require.NoError(t, err)
	entities, err := ev.Entities(events.DefaultDelays())
	require.NoError(t, err)
	return d.service.Schedule(context.Background(), entities)
}

func TestSchedulerDaemonSchedulesAlterTable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cat := catalog.NewMockCatalog()
	cat.AddTable("sales", "orders", catalog.MockTable{Location: "s3://lake/orders/v2"})
	d := buildSchedulerDaemon(t, st, cat)

	err := scheduleEvent(t, d, `{
		"eventType": "ALTER_TABLE",
		"dbName": "sales",
		"tableName": "orders",
		"tableLocation": "s3://lake/orders/v2",
		"oldTableLocation": "s3://lake/orders/v1",
		"tableParameters": {
			"beekeeper.remove.expired.data": "true",
			"beekeeper.expired.data.retention.period": "P7D",
			"beekeeper.remove.unreferenced.data": "true"
		}
	}`)
	require.NoError(t, err)

	expired, err := st.List(ctx, store.Filter{DatabaseName: "sales", LifecycleType: housekeeping.LifecycleExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "s3://lake/orders/v2", expired[0].Path)
	assert.Equal(t, housekeeping.Days(7), expired[0].CleanupDelay)
	assert.True(t, testNow.AddDate(0, 0, 7).Equal(expired[0].CleanupTimestamp), "cleanup at %s", expired[0].CleanupTimestamp)

	unreferenced, err := st.List(ctx, store.Filter{DatabaseName: "sales", LifecycleType: housekeeping.LifecycleUnreferenced})
	require.NoError(t, err)
	require.Len(t, unreferenced, 1)
	assert.Equal(t, "s3://lake/orders/v1", unreferenced[0].Path)
	assert.Equal(t, housekeeping.Days(3), unreferenced[0].CleanupDelay)
	assert.Equal(t, events.DefaultClientID, unreferenced[0].ClientID)
}

func TestSchedulerDaemonSkipsIcebergTables(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cat := catalog.NewMockCatalog()
	cat.AddTable("sales", "events", catalog.MockTable{
		Location:   "s3://lake/events",
		Properties: map[string]string{"table_type": "ICEBERG"},
	})
	d := buildSchedulerDaemon(t, st, cat)

	err := scheduleEvent(t, d, `{
		"eventType": "DROP_TABLE",
		"dbName": "sales",
		"tableName": "events",
		"tableLocation": "s3://lake/events",
		"tableParameters": {"beekeeper.remove.unreferenced.data": "true"}
	}`)
	require.NoError(t, err)

	records, err := st.List(ctx, store.Filter{DatabaseName: "sales"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSchedulerDaemonReadiness(t *testing.T) {
	d := buildSchedulerDaemon(t, newTestStore(t), catalog.NewMockCatalog())

	status := d.healthServer.CheckReadiness(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.Contains(t, status.Checks, "record_store")
	assert.Contains(t, status.Checks, "catalog")
	assert.NotContains(t, status.Checks, "object_store")
}

func TestSchedulerDaemonShutdownBeforeStart(t *testing.T) {
	d := NewSchedulerDaemon(SchedulerOptions{Config: testConfig(), Logger: logging.Nop()})
	assert.NoError(t, d.Shutdown(context.Background()))
}
