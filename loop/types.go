package loop

import "time"

// ScheduleMode selects how WatchTime interprets After, mirroring spec.md
// §4.1's `interval` argument to watch_time.
type ScheduleMode int

const (
	// SchedulePeriodic fires repeatedly every After.
	SchedulePeriodic ScheduleMode = iota
	// ScheduleAbs treats After as an absolute point in time (duration
	// since the Unix epoch) and fires exactly once.
	ScheduleAbs
	// ScheduleRel fires exactly once, After from now.
	ScheduleRel
	// ScheduleOnceThenPeriodic fires once after After, then repeats
	// every Interval.
	ScheduleOnceThenPeriodic
)

// Schedule describes a single watch_time() call.
type Schedule struct {
	After    time.Duration
	Mode     ScheduleMode
	Interval time.Duration // only consulted when Mode == ScheduleOnceThenPeriodic
}

// TimerFunc is a timer callback; it takes no arguments, matching the
// spec's cb() signature (arguments, if any, are closed over by the
// caller).
type TimerFunc func()

// ChildExitFunc receives the child's exit status (as from WEXITSTATUS).
type ChildExitFunc func(status int)

// SignalFunc is a per-attachment signal callback.
type SignalFunc func()

// AttachmentID identifies one watch_signal() attachment. It is a
// synthetic monotonically increasing token, never a comparison on the
// callback value itself (spec.md §9's resolved Open Question).
type AttachmentID uint64
