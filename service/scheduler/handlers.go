package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/viant/pacer/internal/clock"
	"github.com/viant/pacer/service/mbus"
)

// RegisterHandlers subscribes the scheduler's query handlers on the bus.
func (s *Service) RegisterHandlers(bus mbus.Bus) error {
	handlers := map[mbus.Kind]mbus.Handler{
		mbus.KindScheduleInfo:      s.handleScheduleInfo,
		mbus.KindTaskStats:         s.handleTaskStats,
		mbus.KindSchedulerStatus:   s.handleSchedulerStatus,
		mbus.KindResourceInfo:      s.handleResourceInfo,
		mbus.KindAllocationRequest: s.handleAllocationRequest,
	}
	for kind, handler := range handlers {
		if err := bus.Subscribe(kind, Name, handler); err != nil {
			return fmt.Errorf("failed to subscribe %s handler: %w", kind, err)
		}
	}
	return nil
}

// UnregisterHandlers removes the scheduler's subscriptions.
func (s *Service) UnregisterHandlers(bus mbus.Bus) {
	for _, kind := range []mbus.Kind{mbus.KindScheduleInfo, mbus.KindTaskStats, mbus.KindSchedulerStatus, mbus.KindResourceInfo, mbus.KindAllocationRequest} {
		bus.Unsubscribe(kind, Name)
	}
}

func (s *Service) handleScheduleInfo(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	tasks := s.Tasks()
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].NextRun.Before(tasks[j].NextRun)
	})
	info := mbus.ScheduleInfo{TotalTasks: len(tasks)}
	now := clock.Now()
	dueSoon := 0
	for i, task := range tasks {
		if task.Enabled {
			info.EnabledTasks++
		}
		if task.NextRun.Sub(now) <= time.Second {
			dueSoon++
		}
		if i < 5 {
			info.Upcoming = append(info.Upcoming, mbus.UpcomingTask{
				ID:       task.ID,
				Name:     task.Name,
				Priority: int(task.Priority),
				NextRun:  task.NextRun,
			})
		}
	}
	_, maxConcurrent := s.pressureView()
	if maxConcurrent > 0 {
		info.LoadEstimate = float64(dueSoon) / float64(maxConcurrent)
	}
	return info, nil
}

func (s *Service) handleTaskStats(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	stats := mbus.TaskStats{TotalExecutions: s.totalRuns.Load()}
	var mostActive, mostRecent *Task
	tasks := s.Tasks()
	for i := range tasks {
		task := &tasks[i]
		if mostActive == nil || task.Runs > mostActive.Runs {
			mostActive = task
		}
		if mostRecent == nil || task.LastRun.After(mostRecent.LastRun) {
			mostRecent = task
		}
	}
	if mostActive != nil && mostActive.Runs > 0 {
		stats.MostActive = mostActive.Name
	}
	if mostRecent != nil && !mostRecent.LastRun.IsZero() {
		stats.MostRecent = mostRecent.Name
	}
	return stats, nil
}

func (s *Service) handleSchedulerStatus(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	return mbus.SchedulerStatus{Running: s.Running(), LoopAlive: s.loopAlive()}, nil
}

func (s *Service) handleResourceInfo(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	tier, maxConcurrent := s.pressureView()
	return mbus.ResourceInfo{
		CachedTier:    tier,
		MaxConcurrent: maxConcurrent,
		Executing:     int(s.executing.Load()),
	}, nil
}

// handleAllocationRequest answers an approve/deny admission decision from
// the scheduler's cached tier, using the same thresholds as throttling.
// The request is decided here, never forwarded to the coordinator.
func (s *Service) handleAllocationRequest(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	request, ok := env.Payload.(mbus.AllocationRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", env.Payload, env.Kind)
	}
	if request.Priority < int(PriorityIdle) || request.Priority > int(PriorityCritical) {
		return mbus.AllocationDecision{Approved: false, Reason: "priority out of range"}, nil
	}
	approved, reason := s.admit(Priority(request.Priority))
	return mbus.AllocationDecision{Approved: approved, Reason: reason}, nil
}
