package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/store"
)

// ExpiredScheduler schedules tables and partitions whose retention period
// has been set. A table-level candidate also schedules every partition the
// catalog currently lists for the table, with the table's delay.
type ExpiredScheduler struct {
	merger  merger
	catalog catalog.Catalog
	logger  *logging.Logger
}

// ExpiredConfig configures an ExpiredScheduler.
type ExpiredConfig struct {
	Store   *store.Store
	Catalog catalog.Catalog
	Clock   housekeeping.Clock
	Logger  *logging.Logger

	// ConflictRetries bounds merge retries after a concurrent insert.
	ConflictRetries uint
}

// NewExpiredScheduler creates an ExpiredScheduler. Clock defaults to the
// store's clock.
func NewExpiredScheduler(cfg ExpiredConfig) *ExpiredScheduler {
	if cfg.Clock == nil {
		cfg.Clock = cfg.Store.Clock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = DefaultConflictRetries
	}
	return &ExpiredScheduler{
		merger: merger{
			store:        cfg.Store,
			clock:        cfg.Clock,
			retries:      cfg.ConflictRetries,
			logger:       cfg.Logger,
			partitionMax: true,
		},
		catalog: cfg.Catalog,
		logger:  cfg.Logger,
	}
}

var _ Scheduler = (*ExpiredScheduler)(nil)

// LifecycleType returns housekeeping.LifecycleExpired.
func (s *ExpiredScheduler) LifecycleType() housekeeping.LifecycleType {
	return housekeeping.LifecycleExpired
}

// Schedule merges the candidate and, for a table, each of its partitions.
// Partition failures do not stop their siblings; they are joined into the
// returned error. A table record ends no earlier than its latest active
// partition, including partitions added by this call.
func (s *ExpiredScheduler) Schedule(ctx context.Context, candidate housekeeping.Entity) error {
	merged, err := s.merger.merge(ctx, candidate)
	if err != nil {
		return err
	}
	if !candidate.IsTable() {
		s.logScheduled(merged)
		return nil
	}

	fanOutErr := s.schedulePartitions(ctx, *merged)
	table, err := s.merger.raiseToPartitions(ctx, merged.Key())
	if err != nil {
		return errors.Join(fanOutErr, err)
	}
	s.logScheduled(table)
	return fanOutErr
}

func (s *ExpiredScheduler) logScheduled(e *housekeeping.Entity) {
	s.logger.Infof("scheduled for expiry", map[string]any{
		"entity":           e.Identity().String(),
		"cleanupTimestamp": e.CleanupTimestamp,
		"cleanupDelay":     e.CleanupDelay.String(),
	})
}

func (s *ExpiredScheduler) schedulePartitions(ctx context.Context, table housekeeping.Entity) error {
	paths, err := s.catalog.GetTablePartitionsAndPaths(ctx, table.DatabaseName, table.TableName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("list partitions of %s: %w", table.Identity(), err)
	}

	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		partition := housekeeping.Entity{
			Path:          paths[name],
			DatabaseName:  table.DatabaseName,
			TableName:     table.TableName,
			PartitionName: housekeeping.Partition(name),
			Status:        housekeeping.StatusScheduled,
			LifecycleType: housekeeping.LifecycleExpired,
			CleanupDelay:  table.CleanupDelay,
			ClientID:      table.ClientID,
		}
		if _, err := s.merger.merge(ctx, partition); err != nil {
			errs = append(errs, err)
		}
	}
	if len(names) > 0 {
		s.logger.Infof("scheduled table partitions", map[string]any{
			"entity":     table.Identity().String(),
			"partitions": len(names) - len(errs),
			"failed":     len(errs),
		})
	}
	return errors.Join(errs...)
}
