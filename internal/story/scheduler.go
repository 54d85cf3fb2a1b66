package story

import "time"

// Scheduler arms repeating callbacks. Implementations must deliver fn on the
// same serialized queue that issues story commands.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) Handle
}

// Handle cancels a schedule returned by Scheduler. Cancel must be idempotent
// and must guarantee fn is not invoked afterwards.
type Handle interface {
	Cancel()
}

// Clock returns the current time for event timestamps.
type Clock interface {
	Now() time.Time
}

type noopScheduler struct{}

func (noopScheduler) Schedule(time.Duration, func()) Handle { return noopHandle{} }

type noopHandle struct{}

func (noopHandle) Cancel() {}
