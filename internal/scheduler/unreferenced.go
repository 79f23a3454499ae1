package scheduler

import (
	"context"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/store"
)

// UnreferencedScheduler schedules paths left behind by a location change
// or a drop. There is no partition fan-out and no partition maximum.
type UnreferencedScheduler struct {
	merger merger
	logger *logging.Logger
}

// UnreferencedConfig configures an UnreferencedScheduler.
type UnreferencedConfig struct {
	Store           *store.Store
	Clock           housekeeping.Clock
	Logger          *logging.Logger
	ConflictRetries uint
}

// NewUnreferencedScheduler creates an UnreferencedScheduler.
func NewUnreferencedScheduler(cfg UnreferencedConfig) *UnreferencedScheduler {
	if cfg.Clock == nil {
		cfg.Clock = cfg.Store.Clock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = DefaultConflictRetries
	}
	return &UnreferencedScheduler{
		merger: merger{
			store:   cfg.Store,
			clock:   cfg.Clock,
			retries: cfg.ConflictRetries,
			logger:  cfg.Logger,
		},
		logger: cfg.Logger,
	}
}

var _ Scheduler = (*UnreferencedScheduler)(nil)

func (s *UnreferencedScheduler) LifecycleType() housekeeping.LifecycleType {
	return housekeeping.LifecycleUnreferenced
}

func (s *UnreferencedScheduler) Schedule(ctx context.Context, candidate housekeeping.Entity) error {
	e, err := s.merger.merge(ctx, candidate)
	if err != nil {
		return err
	}
	s.logger.Infof("scheduled unreferenced path", map[string]any{
		"entity":           e.Identity().String(),
		"path":             e.Path,
		"cleanupTimestamp": e.CleanupTimestamp,
	})
	return nil
}
