// Package housekeeping defines the records that track data-lake tables,
// partitions and paths scheduled for deferred deletion.
//
// A record moves through a small state machine:
//
//	SCHEDULED <-> FAILED  (retried while attempts < MaxCleanupAttempts)
//	    |           |
//	    +-----+-----+
//	          v
//	       DELETED        (terminal, set by the cleanup engine)
//	       DISABLED       (terminal, operator override)
//
// Only SCHEDULED and FAILED records are active. At most one active record
// exists per [Identity].
package housekeeping

import (
	"fmt"
	"strings"
	"time"
)

// MaxCleanupAttempts is the attempt count at which a record stops being
// returned by cleanup candidate queries. Records below it are eligible.
const MaxCleanupAttempts = 10

// Status is the housekeeping state of a record.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusFailed    Status = "FAILED"
	StatusDeleted   Status = "DELETED"
	StatusDisabled  Status = "DISABLED"

	// StatusFailedToSchedule only appears in history entries.
	StatusFailedToSchedule Status = "FAILED_TO_SCHEDULE"
)

// ActiveStatuses are the statuses a record can be cleaned up from.
var ActiveStatuses = []Status{StatusScheduled, StatusFailed}

// TerminalStatuses are the statuses purged by the retention sweep.
var TerminalStatuses = []Status{StatusDeleted, StatusDisabled}

// Active reports whether the status is SCHEDULED or FAILED.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusFailed
}

// ParseStatus converts a case-insensitive string to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusScheduled, StatusFailed, StatusDeleted, StatusDisabled, StatusFailedToSchedule:
		return st, nil
	default:
		return "", fmt.Errorf("housekeeping: unknown status %q", s)
	}
}

// LifecycleType is the reason an asset is slated for cleanup.
type LifecycleType string

const (
	// LifecycleExpired covers tables and partitions past their retention period.
	LifecycleExpired LifecycleType = "EXPIRED"
	// LifecycleUnreferenced covers paths no table or partition points at any more.
	LifecycleUnreferenced LifecycleType = "UNREFERENCED"
)

// ParseLifecycleType converts a case-insensitive string to a LifecycleType.
func ParseLifecycleType(s string) (LifecycleType, error) {
	switch lt := LifecycleType(strings.ToUpper(strings.TrimSpace(s))); lt {
	case LifecycleExpired, LifecycleUnreferenced:
		return lt, nil
	default:
		return "", fmt.Errorf("housekeeping: unknown lifecycle type %q", s)
	}
}

// Identity names a tracked table or table partition.
// A nil PartitionName is a table-level identity, and it only ever matches
// another nil PartitionName.
type Identity struct {
	DatabaseName  string
	TableName     string
	PartitionName *string
}

// IsTable reports whether the identity is table-level.
func (i Identity) IsTable() bool {
	return i.PartitionName == nil
}

// Table returns the table-level identity of the same table.
func (i Identity) Table() Identity {
	return Identity{DatabaseName: i.DatabaseName, TableName: i.TableName}
}

func (i Identity) String() string {
	if i.PartitionName == nil {
		return i.DatabaseName + "." + i.TableName
	}
	return i.DatabaseName + "." + i.TableName + "/" + *i.PartitionName
}

// Partition returns a pointer to name, for building partition identities.
func Partition(name string) *string {
	return &name
}

// RecordKey is the uniqueness key of an active record: an identity within
// one lifecycle type. Unreferenced records also carry their path, since a
// table that moves twice leaves two old locations behind.
type RecordKey struct {
	Identity
	LifecycleType LifecycleType
	Path          string
}

func (k RecordKey) String() string {
	if k.Path == "" {
		return string(k.LifecycleType) + " " + k.Identity.String()
	}
	return string(k.LifecycleType) + " " + k.Identity.String() + " " + k.Path
}

// Entity is one tracked table or partition.
type Entity struct {
	ID            int64
	Path          string
	DatabaseName  string
	TableName     string
	PartitionName *string
	Status        Status
	LifecycleType LifecycleType
	CleanupDelay  Period

	// CreationTimestamp and ModifiedTimestamp are maintained by the store.
	CreationTimestamp time.Time
	ModifiedTimestamp time.Time

	// CleanupTimestamp is the instant at or after which the record is due.
	CleanupTimestamp time.Time

	CleanupAttempts int
	ClientID        string
}

// Identity returns the identity tuple of the entity.
func (e *Entity) Identity() Identity {
	return Identity{
		DatabaseName:  e.DatabaseName,
		TableName:     e.TableName,
		PartitionName: e.PartitionName,
	}
}

// Key returns the record key the store enforces uniqueness on.
func (e *Entity) Key() RecordKey {
	k := RecordKey{Identity: e.Identity(), LifecycleType: e.LifecycleType}
	if e.LifecycleType == LifecycleUnreferenced {
		k.Path = e.Path
	}
	return k
}

// IsTable reports whether the entity is a table-level record.
func (e *Entity) IsTable() bool {
	return e.PartitionName == nil
}

// Due reports whether the record would be returned by a cleanup candidate
// query evaluated at now.
func (e *Entity) Due(now time.Time) bool {
	return e.Status.Active() &&
		!e.CleanupTimestamp.After(now) &&
		!e.ModifiedTimestamp.After(now) &&
		e.CleanupAttempts < MaxCleanupAttempts
}

// HistoryEntry is an append-only audit row describing one scheduling or
// cleanup outcome for an identity.
type HistoryEntry struct {
	ID             int64
	EventTimestamp time.Time
	DatabaseName   string
	TableName      string
	PartitionName  *string
	Path           string
	LifecycleType  LifecycleType
	Status         Status
	ClientID       string
	Attempts       int
}

// NewHistoryEntry builds a history entry for e with the given outcome.
func NewHistoryEntry(e *Entity, status Status, at time.Time) HistoryEntry {
	return HistoryEntry{
		EventTimestamp: at,
		DatabaseName:   e.DatabaseName,
		TableName:      e.TableName,
		PartitionName:  e.PartitionName,
		Path:           e.Path,
		LifecycleType:  e.LifecycleType,
		Status:         status,
		ClientID:       e.ClientID,
		Attempts:       e.CleanupAttempts,
	}
}
