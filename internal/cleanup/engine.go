// Package cleanup runs housekeeping cleanup cycles.
//
// A cycle pages through the records due for one lifecycle type and, for
// each, drops catalog metadata when the lifecycle owns any and then removes
// the record's path from the object store. Each record is its own failure
// boundary: an error marks that record FAILED and the cycle moves on.
//
// In dry-run mode the same decisions are taken against dry-run catalog and
// object store wrappers and nothing is persisted.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/objectstore"
	"github.com/dray-io/housekeeper/internal/pathcleaner"
	"github.com/dray-io/housekeeper/internal/store"
)

// DefaultPageSize is the number of records fetched per query.
const DefaultPageSize = 500

// EngineConfig configures a cleanup engine.
type EngineConfig struct {
	// DryRun reports what would be removed without mutating the catalog,
	// the object store or the record store.
	DryRun bool

	// PageSize is the number of due records fetched per query.
	// Default: 500
	PageSize int

	// AllowedBuckets lists the buckets paths may be removed from. A record
	// pointing elsewhere fails. Empty allows every bucket.
	AllowedBuckets []string
}

// CycleReport summarizes one cleanup cycle.
type CycleReport struct {
	LifecycleType housekeeping.LifecycleType
	DryRun        bool

	// Processed counts records a cleanup was attempted for.
	Processed int
	// Deleted counts records cleaned up, or that would be in a dry run.
	Deleted int
	// Failed counts records whose cleanup returned an error.
	Failed int
	// Skipped counts records left untouched for a later cycle.
	Skipped int
	// Pages counts candidate queries issued.
	Pages int
}

// Recorder receives cycle and per-record outcomes.
// *metrics.HousekeepingMetrics implements it.
type Recorder interface {
	pathcleaner.BytesReporter
	RecordCycle(report CycleReport, duration time.Duration)
}

// Deps holds the collaborators of an Engine.
type Deps struct {
	Store       *store.Store
	Catalog     catalog.Catalog
	ObjectStore objectstore.Store
	Handler     LifecycleHandler
	Clock       housekeeping.Clock
	Recorder    Recorder // optional
	Logger      *logging.Logger
}

// Engine runs cleanup cycles for one lifecycle type.
type Engine struct {
	cfg      EngineConfig
	store    *store.Store
	catalog  catalog.Catalog
	cleaner  *pathcleaner.Cleaner
	handler  LifecycleHandler
	clock    housekeeping.Clock
	recorder Recorder
	logger   *logging.Logger
}

// NewEngine creates an engine. In dry-run mode the catalog and object
// store are wrapped so drops and deletes are only logged.
func NewEngine(cfg EngineConfig, deps Deps) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if deps.Clock == nil {
		deps.Clock = deps.Store.Clock()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Global()
	}
	logger := deps.Logger.With(map[string]any{
		"lifecycle": string(deps.Handler.LifecycleType()),
		"dryRun":    cfg.DryRun,
	})

	cat := deps.Catalog
	if cfg.DryRun && cat != nil {
		cat = catalog.NewDryRun(cat, logger)
	}
	var reporter pathcleaner.BytesReporter
	if deps.Recorder != nil {
		reporter = deps.Recorder
	}
	cleaner := pathcleaner.New(deps.ObjectStore, pathcleaner.Config{
		DryRun:         cfg.DryRun,
		Reporter:       reporter,
		AllowedBuckets: cfg.AllowedBuckets,
		Logger:         logger,
	})

	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		catalog:  cat,
		cleaner:  cleaner,
		handler:  deps.Handler,
		clock:    deps.Clock,
		recorder: deps.Recorder,
		logger:   logger,
	}
}

// LifecycleType returns the lifecycle type the engine cleans.
func (e *Engine) LifecycleType() housekeeping.LifecycleType {
	return e.handler.LifecycleType()
}

type outcome int

const (
	outcomeDeleted outcome = iota
	outcomeSkipped
	outcomeFailed
)

// RunCycle cleans every record due at the start of the cycle. It returns
// an error only when the candidate query fails or ctx is cancelled; the
// record being processed when ctx is cancelled is completed first.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	ctx, logger := logging.StartOperation(ctx, e.logger)
	start := time.Now()
	now := e.clock.Now()
	report := CycleReport{LifecycleType: e.handler.LifecycleType(), DryRun: e.cfg.DryRun}

	logger.Infof("cleanup cycle started", map[string]any{"instant": now})
	err := e.run(ctx, logger, now, &report)

	fields := map[string]any{
		"processed": report.Processed,
		"deleted":   report.Deleted,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"pages":     report.Pages,
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.Warnf("cleanup cycle interrupted", fields)
	} else {
		logger.Infof("cleanup cycle finished", fields)
	}
	if e.recorder != nil {
		e.recorder.RecordCycle(report, time.Since(start))
	}
	return report, err
}

func (e *Engine) run(ctx context.Context, logger *logging.Logger, now time.Time, report *CycleReport) error {
	page := store.Page{Limit: e.cfg.PageSize}
	seen := make(map[int64]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := e.handler.FindDueRecords(ctx, now, page)
		if err != nil {
			return fmt.Errorf("cleanup: fetch due records: %w", err)
		}
		report.Pages++
		if len(records) == 0 {
			return nil
		}

		// Records that keep their place in the candidate ordering. The next
		// query skips past them; everything else on the page either left the
		// candidate set or moved behind the unprocessed records.
		kept := 0
		fresh := 0
		for i := range records {
			rec := &records[i]
			if _, ok := seen[rec.ID]; ok {
				kept++
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			seen[rec.ID] = struct{}{}
			fresh++

			result, stored := e.process(context.WithoutCancel(ctx), logger, now, rec)
			switch result {
			case outcomeDeleted:
				report.Processed++
				report.Deleted++
			case outcomeFailed:
				report.Processed++
				report.Failed++
			case outcomeSkipped:
				report.Skipped++
			}
			if !stored {
				kept++
			}
		}

		if len(records) < page.Limit {
			return nil
		}
		if fresh == 0 {
			logger.Debugf("page held only processed records, moving past it", map[string]any{
				"offset": page.Offset,
				"limit":  page.Limit,
			})
		}
		if e.cfg.DryRun {
			page = page.Next()
		} else {
			page.Offset += kept
		}
	}
}

// process cleans one record and, outside dry runs, persists the outcome.
// stored is false when the record was left unchanged in the store.
func (e *Engine) process(ctx context.Context, logger *logging.Logger, now time.Time, rec *housekeeping.Entity) (result outcome, stored bool) {
	fields := map[string]any{
		"entity": rec.Identity().String(),
		"path":   rec.Path,
		"id":     rec.ID,
	}

	deleted, err := e.clean(ctx, logger, now, rec)
	switch {
	case err != nil:
		fields["error"] = err.Error()
		fields["attempts"] = rec.CleanupAttempts + 1
		logger.Warnf("cleanup failed", fields)
		return outcomeFailed, e.persist(ctx, logger, rec, housekeeping.StatusFailed)
	case !deleted:
		return outcomeSkipped, false
	default:
		logger.Infof("cleanup succeeded", fields)
		return outcomeDeleted, e.persist(ctx, logger, rec, housekeeping.StatusDeleted)
	}
}

// clean runs the cascade decision for one record. It returns false with a
// nil error when the record must wait for a later cycle.
func (e *Engine) clean(ctx context.Context, logger *logging.Logger, now time.Time, rec *housekeeping.Entity) (bool, error) {
	if !e.handler.DropsMetadata() {
		return true, e.cleaner.CleanupPath(ctx, rec.Path, rec.TableName)
	}
	if rec.IsTable() {
		return e.cleanTable(ctx, logger, now, rec)
	}
	return e.cleanPartition(ctx, logger, rec)
}

func (e *Engine) cleanPartition(ctx context.Context, logger *logging.Logger, rec *housekeeping.Entity) (bool, error) {
	exists, err := e.catalog.TableExists(ctx, rec.DatabaseName, rec.TableName)
	if err != nil {
		return false, err
	}
	if !exists {
		logger.Infof("table does not exist, leaving partition for a later cycle", map[string]any{
			"entity": rec.Identity().String(),
		})
		return false, nil
	}
	err = e.catalog.DropPartition(ctx, rec.DatabaseName, rec.TableName, *rec.PartitionName)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return false, err
	}
	return true, e.cleaner.CleanupPath(ctx, rec.Path, rec.TableName)
}

func (e *Engine) cleanTable(ctx context.Context, logger *logging.Logger, now time.Time, rec *housekeeping.Entity) (bool, error) {
	remaining, err := e.handler.CountActivePartitions(ctx, now, rec.DatabaseName, rec.TableName, e.cfg.DryRun)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		logger.Debugf("table still has scheduled partitions", map[string]any{
			"entity":     rec.Identity().String(),
			"partitions": remaining,
		})
		return false, nil
	}
	exists, err := e.catalog.TableExists(ctx, rec.DatabaseName, rec.TableName)
	if err != nil {
		return false, err
	}
	if !exists {
		logger.Infof("table does not exist, nothing to drop", map[string]any{
			"entity": rec.Identity().String(),
		})
		return false, nil
	}
	err = e.catalog.DropTable(ctx, rec.DatabaseName, rec.TableName)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return false, err
	}
	return true, e.cleaner.CleanupPath(ctx, rec.Path, rec.TableName)
}

// persist moves rec to status, counts the attempt and appends history in
// one transaction. Dry runs persist nothing. It reports whether the store
// was changed.
func (e *Engine) persist(ctx context.Context, logger *logging.Logger, rec *housekeeping.Entity, status housekeeping.Status) bool {
	if e.cfg.DryRun {
		return false
	}
	rec.Status = status
	rec.CleanupAttempts++
	err := e.store.WithinTransaction(ctx, func(tx *store.Store) error {
		if err := tx.Update(ctx, rec); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, housekeeping.NewHistoryEntry(rec, status, rec.ModifiedTimestamp))
	})
	if err != nil {
		logger.Errorf("failed to persist cleanup outcome", map[string]any{
			"entity": rec.Identity().String(),
			"status": string(status),
			"error":  err.Error(),
		})
		return false
	}
	return true
}
