// Package metrics provides Prometheus metrics for the housekeeping daemons.
//
// Exposed metrics:
//   - Records scheduled per lifecycle type and outcome
//   - Cleanup cycle duration and per-record results
//   - Bytes deleted (or that would be deleted in dry-run mode)
//   - Terminal records purged by the retention sweep
//   - Records per housekeeping status, refreshed by a BacklogScanner
//   - Object store operation latency and counts
//
// Metrics are served by a dedicated HTTP server on /metrics.
//
// Usage:
//
//	hk := metrics.NewHousekeepingMetrics()
//	svc := scheduler.NewService(scheduler.ServiceConfig{Recorder: hk, ...})
//	engine := cleanup.NewEngine(cfg, cleanup.Deps{Recorder: hk, ...})
//
//	objects := objectstore.NewInstrumentedStore(s3Store, metrics.NewObjectStoreMetrics())
//
//	srv := metrics.NewServer(":9090")
//	srv.Start()
package metrics
