package scheduler

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueOrdering(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Second)

	var queue taskQueue
	push := func(name string, nextRun time.Time, priority Priority, seq int64) {
		heap.Push(&queue, &Task{Name: name, NextRun: nextRun, Priority: priority, seq: seq})
	}
	// Due time dominates, then priority descending, then registration order.
	push("late-critical", later, PriorityCritical, 1)
	push("due-low", now, PriorityLow, 2)
	push("due-critical", now, PriorityCritical, 3)
	push("due-normal", now, PriorityNormal, 4)
	push("due-critical-2", now, PriorityCritical, 5)

	var order []string
	for queue.Len() > 0 {
		task := heap.Pop(&queue).(*Task)
		order = append(order, task.Name)
	}
	assert.Equal(t, []string{"due-critical", "due-critical-2", "due-normal", "due-low", "late-critical"}, order)
}

func TestTimeUnitNormalisation(t *testing.T) {
	testCases := []struct {
		unit     TimeUnit
		interval float64
		expect   time.Duration
	}{
		{UnitMicrosecond, 500, 500 * time.Microsecond},
		{UnitMillisecond, 250, 250 * time.Millisecond},
		{UnitSecond, 1.5, 1500 * time.Millisecond},
		{UnitMinute, 2, 2 * time.Minute},
		{UnitHour, 1, time.Hour},
		{UnitDay, 1, 24 * time.Hour},
		{UnitWeek, 1, 7 * 24 * time.Hour},
		{UnitMonth, 1, 30 * 24 * time.Hour},
		{UnitYear, 1, 365 * 24 * time.Hour},
	}
	for _, testCase := range testCases {
		service, err := New(nil, DefaultConfig())
		assert.NoError(t, err)
		id, err := service.Register("unit-test", func() {}, testCase.interval, WithTimeUnit(testCase.unit))
		assert.NoError(t, err, string(testCase.unit))
		task, ok := service.Task(id)
		assert.True(t, ok)
		assert.Equal(t, testCase.expect, task.Interval, string(testCase.unit))
	}
}
