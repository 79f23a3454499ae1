package scheduler

import (
	"fmt"

	"github.com/dray-io/housekeeper/internal/housekeeping"
)

// SchedulingError reports that one entity could not be scheduled.
// Service.Schedule joins one SchedulingError per failed entity.
type SchedulingError struct {
	Entity        housekeeping.Identity
	LifecycleType housekeeping.LifecycleType
	Err           error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("unable to schedule %s deletion for entity %s: %v", e.LifecycleType, e.Entity, e.Err)
}

func (e *SchedulingError) Unwrap() error {
	return e.Err
}
