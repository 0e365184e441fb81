// Package scheduler owns the task registry and a time-ordered priority
// queue, and runs a single dedicated scheduling loop. Due tasks are popped
// under the queue lock, executed outside it in priority order, and
// reinserted with an advanced next-run time. The loop waits with a hybrid
// policy: it blocks on a wake signal while the next task is far away and
// spins for the final stretch to keep sub-millisecond precision.
//
// The scheduler never talks to the resource coordinator directly. It
// periodically queries pressure over the bus, caches the last-known tier
// and uses it for throttling decisions; a timed-out query leaves the
// previous tier in effect.
package scheduler
