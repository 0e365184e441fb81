package scheduler

import (
	"fmt"

	"github.com/viant/pacer/service/mbus"
)

// admit decides whether work of the given priority may run under the
// current concurrency and cached pressure. The same thresholds back both
// the loop's throttling decision and the bus admission handler.
func (s *Service) admit(priority Priority) (bool, string) {
	if priority == PriorityCritical {
		return true, ""
	}
	tier, maxConcurrent := s.pressureView()
	if int(s.executing.Load()) >= maxConcurrent {
		return false, fmt.Sprintf("concurrency cap %d reached", maxConcurrent)
	}
	switch tier {
	case mbus.TierCritical:
		return false, "critical resource pressure"
	case mbus.TierHigh:
		if priority < PriorityHigh {
			return false, "high resource pressure"
		}
	case mbus.TierModerate:
		if priority <= PriorityLow {
			return false, "moderate resource pressure"
		}
	}
	return true, ""
}

// shouldThrottleLocked reports whether the task must be deferred instead
// of run. Critical tasks are never throttled.
func (s *Service) shouldThrottleLocked(task *Task) bool {
	admitted, _ := s.admit(task.Priority)
	return !admitted
}
