package housekeeping

import "time"

// Clock supplies the current instant for scheduling and cleanup decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, in UTC with microsecond precision to
// match what the record store can persist.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CleanupTimestamp returns the instant a record created at creation with
// the given delay becomes due.
func CleanupTimestamp(creation time.Time, delay Period) time.Time {
	return delay.AddTo(creation)
}

// MergeCleanupTimestamp returns the cleanup timestamp for a table-level
// record: the candidate computed from the table's own delay, raised to the
// latest cleanup timestamp of the table's active partitions. A zero
// maxPartition means the table has no active partitions.
//
// A table never becomes due before a partition already scheduled under it.
func MergeCleanupTimestamp(candidate, maxPartition time.Time) time.Time {
	if maxPartition.After(candidate) {
		return maxPartition
	}
	return candidate
}
