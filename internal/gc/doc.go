// Package gc runs the periodic housekeeping workers.
//
// # Cleanup
//
// The cleanup worker ([CleanupWorker]) runs one cleanup cycle per
// configured lifecycle engine on every tick:
//
//	worker := gc.NewCleanupWorker([]gc.Cycler{expiredEngine, unreferencedEngine},
//	    gc.CleanupWorkerConfig{ScanIntervalMs: 300000})
//	worker.Start()
//	defer worker.Stop()
//
// Stop cancels the running cycle between records and waits for the record
// in flight.
//
// # Retention
//
// The retention worker ([RetentionWorker]) purges DELETED and DISABLED
// records whose cleanup timestamp is older than the retention age, keeping
// the record store from growing without bound.
package gc
