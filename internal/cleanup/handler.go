package cleanup

import (
	"context"
	"time"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/store"
)

// LifecycleHandler supplies the lifecycle-specific queries and policy the
// engine's shared cleanup algorithm runs against.
type LifecycleHandler interface {
	LifecycleType() housekeeping.LifecycleType

	// FindDueRecords returns one page of records due at now.
	FindDueRecords(ctx context.Context, now time.Time, page store.Page) ([]housekeeping.Entity, error)

	// CountActivePartitions returns the number of partition records that
	// still hold the table back. Dry runs only count partitions a real cycle
	// at now would leave behind.
	CountActivePartitions(ctx context.Context, now time.Time, database, table string, dryRun bool) (int64, error)

	// DropsMetadata reports whether records own catalog metadata that must
	// be dropped before their path is cleaned.
	DropsMetadata() bool
}

// ExpiredHandler handles tables and partitions past their retention.
type ExpiredHandler struct {
	store *store.Store
}

func NewExpiredHandler(s *store.Store) *ExpiredHandler {
	return &ExpiredHandler{store: s}
}

var _ LifecycleHandler = (*ExpiredHandler)(nil)

func (h *ExpiredHandler) LifecycleType() housekeeping.LifecycleType {
	return housekeeping.LifecycleExpired
}

func (h *ExpiredHandler) FindDueRecords(ctx context.Context, now time.Time, page store.Page) ([]housekeeping.Entity, error) {
	return h.store.FindDue(ctx, housekeeping.LifecycleExpired, now, page)
}

func (h *ExpiredHandler) CountActivePartitions(ctx context.Context, now time.Time, database, table string, dryRun bool) (int64, error) {
	if dryRun {
		return h.store.CountPendingPartitions(ctx, now, database, table)
	}
	return h.store.CountActivePartitions(ctx, database, table)
}

func (h *ExpiredHandler) DropsMetadata() bool {
	return true
}

// UnreferencedHandler handles paths nothing in the catalog points at.
// Only the path is cleaned.
type UnreferencedHandler struct {
	store *store.Store
}

func NewUnreferencedHandler(s *store.Store) *UnreferencedHandler {
	return &UnreferencedHandler{store: s}
}

var _ LifecycleHandler = (*UnreferencedHandler)(nil)

func (h *UnreferencedHandler) LifecycleType() housekeeping.LifecycleType {
	return housekeeping.LifecycleUnreferenced
}

func (h *UnreferencedHandler) FindDueRecords(ctx context.Context, now time.Time, page store.Page) ([]housekeeping.Entity, error) {
	return h.store.FindDue(ctx, housekeeping.LifecycleUnreferenced, now, page)
}

// CountActivePartitions always returns zero: unreferenced records have no
// partition cascade.
func (h *UnreferencedHandler) CountActivePartitions(ctx context.Context, now time.Time, database, table string, dryRun bool) (int64, error) {
	return 0, nil
}

func (h *UnreferencedHandler) DropsMetadata() bool {
	return false
}
