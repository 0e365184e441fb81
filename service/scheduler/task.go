package scheduler

import (
	"time"
)

// Priority orders task execution. Higher numeric value wins; Critical tasks
// are never throttled.
type Priority int

const (
	PriorityIdle Priority = iota + 1
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityIdle:
		return "idle"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// TimeUnit declares the unit of a registration interval. Intervals are
// normalised to a duration once, at registration time.
type TimeUnit string

const (
	UnitMicrosecond TimeUnit = "microsecond"
	UnitMillisecond TimeUnit = "millisecond"
	UnitSecond      TimeUnit = "second"
	UnitMinute      TimeUnit = "minute"
	UnitHour        TimeUnit = "hour"
	UnitDay         TimeUnit = "day"
	UnitWeek        TimeUnit = "week"
	UnitMonth       TimeUnit = "month"
	UnitYear        TimeUnit = "year"
)

// duration returns the unit length, or 0 for an unknown unit.
func (u TimeUnit) duration() time.Duration {
	switch u {
	case UnitMicrosecond:
		return time.Microsecond
	case UnitMillisecond:
		return time.Millisecond
	case UnitSecond:
		return time.Second
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	case UnitMonth:
		return 30 * 24 * time.Hour
	case UnitYear:
		return 365 * 24 * time.Hour
	}
	return 0
}

// Task is one registered unit of recurring work. Fields are mutated in
// place on every execution and guarded by the scheduler's queue lock;
// callers receive copies.
type Task struct {
	ID           string
	Name         string
	Callback     func()
	Priority     Priority
	Interval     time.Duration
	NextRun      time.Time
	Enabled      bool
	Dependencies []string
	Runs         int64
	LastRun      time.Time

	// seq preserves registration order for deterministic tie-breaks.
	seq int64
	// index is maintained by the heap.
	index int
	// unit and startAt only matter during registration.
	unit    TimeUnit
	startAt time.Time
}

// TaskOption customises a task at registration.
type TaskOption func(t *Task)

// WithPriority sets the task priority (default PriorityNormal).
func WithPriority(priority Priority) TaskOption {
	return func(t *Task) { t.Priority = priority }
}

// WithTimeUnit declares the unit of the registration interval (default
// UnitSecond).
func WithTimeUnit(unit TimeUnit) TaskOption {
	return func(t *Task) { t.unit = unit }
}

// WithDependencies lists tasks (by id or name) that must have executed at
// least once before this task is eligible to run.
func WithDependencies(refs ...string) TaskOption {
	return func(t *Task) { t.Dependencies = refs }
}

// WithStartAt pins the first run to an absolute time instead of
// now + interval.
func WithStartAt(at time.Time) TaskOption {
	return func(t *Task) { t.startAt = at }
}
