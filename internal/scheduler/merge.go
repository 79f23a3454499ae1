package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go/v4"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/store"
)

// DefaultConflictRetries bounds how often a merge is retried after losing
// a first-insert race to another instance.
const DefaultConflictRetries = 3

// merger upserts candidates into the record store.
type merger struct {
	store   *store.Store
	clock   housekeeping.Clock
	retries uint
	logger  *logging.Logger

	// partitionMax raises table-level cleanup timestamps to the latest
	// active partition timestamp.
	partitionMax bool
}

// merge inserts candidate as a new SCHEDULED record or folds it into the
// active record of the same identity. Either way a SCHEDULED history entry
// is appended in the same transaction. On failure a FAILED_TO_SCHEDULE
// entry is appended outside it.
func (m *merger) merge(ctx context.Context, candidate housekeeping.Entity) (*housekeeping.Entity, error) {
	var merged *housekeeping.Entity
	err := retry.Do(
		func() error {
			var err error
			merged, err = m.mergeOnce(ctx, candidate)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(m.retries),
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, store.ErrConflict)
		}),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Debugf("identity inserted concurrently, retrying merge", map[string]any{
				"entity":  candidate.Identity().String(),
				"attempt": n + 1,
			})
		}),
	)
	if err != nil {
		m.recordFailure(ctx, candidate)
		return nil, err
	}
	return merged, nil
}

func (m *merger) mergeOnce(ctx context.Context, candidate housekeeping.Entity) (*housekeeping.Entity, error) {
	var merged *housekeeping.Entity
	err := m.store.WithinTransaction(ctx, func(tx *store.Store) error {
		now := m.clock.Now()
		existing, err := tx.LockActive(ctx, candidate.Key())
		switch {
		case errors.Is(err, store.ErrNotFound):
			e := candidate
			e.ID = 0
			e.Status = housekeeping.StatusScheduled
			e.CreationTimestamp = now
			e.CleanupTimestamp = housekeeping.CleanupTimestamp(now, e.CleanupDelay)
			e.CleanupAttempts = 0
			if err := tx.Create(ctx, &e); err != nil {
				return err
			}
			merged = &e
		case err != nil:
			return err
		default:
			e := *existing
			e.Path = candidate.Path
			e.Status = housekeeping.StatusScheduled
			e.ClientID = candidate.ClientID
			e.CleanupDelay = candidate.CleanupDelay
			e.CleanupTimestamp = housekeeping.CleanupTimestamp(e.CreationTimestamp, e.CleanupDelay)
			if m.partitionMax && e.IsTable() {
				maxPartition, err := tx.MaxActivePartitionCleanupTimestamp(ctx, e.DatabaseName, e.TableName)
				if err != nil {
					return err
				}
				e.CleanupTimestamp = housekeeping.MergeCleanupTimestamp(e.CleanupTimestamp, maxPartition)
			}
			if err := tx.Update(ctx, &e); err != nil {
				return err
			}
			merged = &e
		}
		return tx.AppendHistory(ctx, housekeeping.NewHistoryEntry(merged, housekeeping.StatusScheduled, now))
	})
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", candidate.Key(), err)
	}
	return merged, nil
}

// raiseToPartitions lifts the active table record's cleanup timestamp to
// the latest active partition timestamp, if that is later. It returns the
// record as stored.
func (m *merger) raiseToPartitions(ctx context.Context, key housekeeping.RecordKey) (*housekeeping.Entity, error) {
	var table *housekeeping.Entity
	err := m.store.WithinTransaction(ctx, func(tx *store.Store) error {
		e, err := tx.LockActive(ctx, key)
		if err != nil {
			return err
		}
		table = e
		maxPartition, err := tx.MaxActivePartitionCleanupTimestamp(ctx, e.DatabaseName, e.TableName)
		if err != nil {
			return err
		}
		if !maxPartition.After(e.CleanupTimestamp) {
			return nil
		}
		e.CleanupTimestamp = maxPartition
		return tx.Update(ctx, e)
	})
	if err != nil {
		return nil, fmt.Errorf("raise %s to partitions: %w", key, err)
	}
	return table, nil
}

func (m *merger) recordFailure(ctx context.Context, candidate housekeeping.Entity) {
	entry := housekeeping.NewHistoryEntry(&candidate, housekeeping.StatusFailedToSchedule, m.clock.Now())
	if err := m.store.AppendHistory(ctx, entry); err != nil {
		m.logger.Warnf("failed to record scheduling failure", map[string]any{
			"entity": candidate.Identity().String(),
			"error":  err.Error(),
		})
	}
}
