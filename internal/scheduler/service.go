// Package scheduler turns lifecycle events into housekeeping records.
//
// Each candidate entity is merged into the record store: a new identity is
// inserted as SCHEDULED, an identity that already has an active record has
// that record updated in place, keeping its id and creation timestamp. The
// merge for one identity runs in a single transaction holding a row lock on
// the active record, and concurrent first inserts from two instances are
// resolved by the store's unique index plus a bounded retry.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/housekeeper/internal/guard"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
)

// Scheduler schedules candidates of one lifecycle type.
type Scheduler interface {
	LifecycleType() housekeeping.LifecycleType
	Schedule(ctx context.Context, candidate housekeeping.Entity) error
}

// ErrUnknownLifecycle is returned for candidates no scheduler handles.
var ErrUnknownLifecycle = errors.New("no scheduler for lifecycle type")

// Recorder receives scheduling outcomes. *metrics.HousekeepingMetrics
// implements it.
type Recorder interface {
	RecordScheduled(lifecycle housekeeping.LifecycleType, outcome string)
}

// Outcomes passed to Recorder.
const (
	OutcomeScheduled = "scheduled"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Service dispatches candidates to the scheduler registered for their
// lifecycle type after the format guard has accepted the table.
type Service struct {
	schedulers map[housekeeping.LifecycleType]Scheduler
	guard      guard.Checker
	recorder   Recorder
	logger     *logging.Logger
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Schedulers []Scheduler
	Guard      guard.Checker
	Recorder   Recorder // optional
	Logger     *logging.Logger
}

// NewService creates a Service. A later scheduler for the same lifecycle
// type replaces an earlier one.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	s := &Service{
		schedulers: make(map[housekeeping.LifecycleType]Scheduler, len(cfg.Schedulers)),
		guard:      cfg.Guard,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
	}
	for _, sc := range cfg.Schedulers {
		s.schedulers[sc.LifecycleType()] = sc
	}
	return s
}

// Schedule schedules every entity. Entities of unsupported table formats
// are skipped and count as success. The returned error joins one
// *SchedulingError per failed entity; nil means every entity was scheduled
// or skipped.
func (s *Service) Schedule(ctx context.Context, entities []housekeeping.Entity) error {
	logger := logging.ContextLogger(ctx, s.logger)

	var errs []error
	for _, e := range entities {
		if err := s.scheduleOne(ctx, e); err != nil {
			if errors.Is(err, guard.ErrUnsupportedFormat) {
				logger.Warnf("skipping housekeeping for unsupported table", map[string]any{
					"entity":    e.Identity().String(),
					"lifecycle": string(e.LifecycleType),
					"reason":    err.Error(),
				})
				s.record(e.LifecycleType, OutcomeSkipped)
				continue
			}
			logger.Errorf("failed to schedule entity", map[string]any{
				"entity":    e.Identity().String(),
				"lifecycle": string(e.LifecycleType),
				"error":     err.Error(),
			})
			s.record(e.LifecycleType, OutcomeFailed)
			errs = append(errs, &SchedulingError{
				Entity:        e.Identity(),
				LifecycleType: e.LifecycleType,
				Err:           err,
			})
			continue
		}
		s.record(e.LifecycleType, OutcomeScheduled)
	}
	return errors.Join(errs...)
}

func (s *Service) scheduleOne(ctx context.Context, e housekeeping.Entity) error {
	if s.guard != nil {
		if err := s.guard.Check(ctx, e.DatabaseName, e.TableName); err != nil {
			return err
		}
	}
	sc, ok := s.schedulers[e.LifecycleType]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownLifecycle, e.LifecycleType)
	}
	return sc.Schedule(ctx, e)
}

func (s *Service) record(lifecycle housekeeping.LifecycleType, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordScheduled(lifecycle, outcome)
	}
}
