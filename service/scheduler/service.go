package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/pacer/internal/clock"
	"github.com/viant/pacer/service/mbus"
	"github.com/viant/pacer/tracing"
)

// Name identifies the scheduler on the bus.
const Name = "scheduler"

const coordinatorTarget = "coordinator"

// Config represents scheduler configuration.
type Config struct {
	// SpinThreshold is the remaining-time boundary below which the loop
	// spins instead of blocking, trading CPU for precision.
	SpinThreshold time.Duration `json:"spinThreshold" yaml:"spinThreshold"`

	// IdleWait bounds the wake wait when no task is queued, keeping the
	// loop responsive to new registrations.
	IdleWait time.Duration `json:"idleWait" yaml:"idleWait"`

	// ThrottleBackoff is the fixed deferral applied to throttled tasks.
	ThrottleBackoff time.Duration `json:"throttleBackoff" yaml:"throttleBackoff"`

	// DependencyBackoff is the deferral applied when a dependency is unmet.
	DependencyBackoff time.Duration `json:"dependencyBackoff" yaml:"dependencyBackoff"`

	// PressureInterval is how often the cached pressure tier is refreshed.
	PressureInterval time.Duration `json:"pressureInterval" yaml:"pressureInterval"`

	// PressureTimeout bounds one pressure query; on timeout the previous
	// cached tier stays in effect.
	PressureTimeout time.Duration `json:"pressureTimeout" yaml:"pressureTimeout"`

	// ConcurrencyCaps maps each pressure tier to the maximum number of
	// concurrently executing tasks.
	ConcurrencyCaps map[mbus.Tier]int `json:"concurrencyCaps" yaml:"concurrencyCaps"`

	// RecoverySleep is the pause after a recovered loop failure.
	RecoverySleep time.Duration `json:"recoverySleep" yaml:"recoverySleep"`

	// StopTimeout bounds how long Stop waits for the loop to join.
	StopTimeout time.Duration `json:"stopTimeout" yaml:"stopTimeout"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SpinThreshold:     2 * time.Millisecond,
		IdleWait:          10 * time.Millisecond,
		ThrottleBackoff:   time.Second,
		DependencyBackoff: 100 * time.Millisecond,
		PressureInterval:  5 * time.Second,
		PressureTimeout:   100 * time.Millisecond,
		ConcurrencyCaps: map[mbus.Tier]int{
			mbus.TierLow:      20,
			mbus.TierModerate: 15,
			mbus.TierHigh:     10,
			mbus.TierCritical: 5,
		},
		RecoverySleep: 100 * time.Millisecond,
		StopTimeout:   2 * time.Second,
	}
}

// Validate returns an aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.SpinThreshold <= 0 {
		return fmt.Errorf("spinThreshold must be > 0")
	}
	if c.IdleWait <= 0 {
		return fmt.Errorf("idleWait must be > 0")
	}
	for tier, cap := range c.ConcurrencyCaps {
		if cap <= 0 {
			return fmt.Errorf("concurrency cap for %s tier must be > 0", tier)
		}
	}
	return nil
}

// Service is the task scheduler.
type Service struct {
	config Config
	bus    mbus.Bus

	mu        sync.Mutex
	tasks     map[string]*Task
	names     map[string]string
	queue     taskQueue
	seq       int64
	lastStamp int64

	wakeCh     chan struct{}
	stopCh     chan struct{}
	loopDone   chan struct{}
	refreshWg  sync.WaitGroup
	running    bool
	runningMu  sync.Mutex
	executing  atomic.Int32
	totalRuns  atomic.Int64

	pressureMu    sync.RWMutex
	cachedTier    mbus.Tier
	maxConcurrent int
	lastPressure  time.Time
}

// New creates a scheduler with the supplied bus.
func New(bus mbus.Bus, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		config: config,
		bus:    bus,
		tasks:  make(map[string]*Task),
		names:  make(map[string]string),
		wakeCh: make(chan struct{}, 1),
	}
	s.cachedTier = mbus.TierLow
	s.maxConcurrent = config.ConcurrencyCaps[mbus.TierLow]
	return s, nil
}

// Register adds a recurring task. The interval is declared in the unit set
// via WithTimeUnit (seconds by default) and normalised once, here.
func (s *Service) Register(name string, callback func(), interval float64, options ...TaskOption) (string, error) {
	if name == "" {
		return "", &ValidationError{Field: "name", Reason: "cannot be empty"}
	}
	if callback == nil {
		return "", &ValidationError{Field: "callback", Reason: "cannot be nil"}
	}
	if interval <= 0 {
		return "", &ValidationError{Field: "interval", Reason: "must be > 0"}
	}
	task := &Task{
		Name:     name,
		Callback: callback,
		Priority: PriorityNormal,
		Enabled:  true,
		unit:     UnitSecond,
	}
	for _, option := range options {
		option(task)
	}
	if task.Priority < PriorityIdle || task.Priority > PriorityCritical {
		return "", &ValidationError{Field: "priority", Reason: "must be in [1,5]"}
	}
	unitLength := task.unit.duration()
	if unitLength == 0 {
		return "", &ValidationError{Field: "timeUnit", Reason: fmt.Sprintf("unknown unit %q", task.unit)}
	}
	task.Interval = time.Duration(interval * float64(unitLength))
	if task.Interval <= 0 {
		return "", &ValidationError{Field: "interval", Reason: "must normalise to > 0"}
	}

	s.mu.Lock()
	now := clock.Now()
	task.ID = fmt.Sprintf("%s_%d", name, s.stampLocked(now))
	if task.startAt.IsZero() {
		task.NextRun = now.Add(task.Interval)
	} else {
		task.NextRun = task.startAt
	}
	s.seq++
	task.seq = s.seq
	s.tasks[task.ID] = task
	s.names[task.Name] = task.ID
	heap.Push(&s.queue, task)
	s.mu.Unlock()

	// Wake the loop so a newly added due task is not delayed by an
	// in-progress wait.
	s.wake()
	return task.ID, nil
}

// stampLocked returns a strictly increasing microsecond timestamp so task
// ids stay unique without a central counter.
func (s *Service) stampLocked(now time.Time) int64 {
	stamp := now.UnixMicro()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

// Unregister marks the task disabled; it is filtered out of the queue
// lazily at its next pop. Unknown ids return false.
func (s *Service) Unregister(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	task.Enabled = false
	return true
}

// SetEnabled toggles a task without removing it. Unknown ids return false.
func (s *Service) SetEnabled(taskID string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	task.Enabled = enabled
	return true
}

// Task returns a copy of the task with the given id.
func (s *Service) Task(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Tasks returns a snapshot of all registered tasks.
func (s *Service) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		result = append(result, *task)
	}
	return result
}

// Start spawns the scheduling loop and the pressure refresh loop.
func (s *Service) Start(ctx context.Context) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.run(ctx, s.stopCh, s.loopDone)
	s.refreshWg.Add(1)
	go s.refreshLoop(ctx, s.stopCh)
	return nil
}

// Stop signals the loop and joins it with a bounded wait. A stop on a
// stopped scheduler is a no-op.
func (s *Service) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	loopDone := s.loopDone
	s.runningMu.Unlock()

	timer := time.NewTimer(s.config.StopTimeout)
	defer timer.Stop()
	select {
	case <-loopDone:
	case <-timer.C:
		log.Printf("scheduling loop did not stop within %v", s.config.StopTimeout)
	}
	s.refreshWg.Wait()
}

// Running reports whether the scheduling loop has been started.
func (s *Service) Running() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

func (s *Service) loopAlive() bool {
	s.runningMu.Lock()
	loopDone := s.loopDone
	s.runningMu.Unlock()
	if loopDone == nil {
		return false
	}
	select {
	case <-loopDone:
		return false
	default:
		return true
	}
}

func (s *Service) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// run is the scheduling loop. Every failure inside an iteration is
// recovered at the iteration boundary; the loop terminates only via stop.
func (s *Service) run(ctx context.Context, stopCh, loopDone chan struct{}) {
	defer close(loopDone)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		s.iterate(ctx, stopCh)
	}
}

func (s *Service) iterate(ctx context.Context, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduling loop failure: %v", r)
			time.Sleep(s.config.RecoverySleep)
		}
	}()
	batch, next, hasNext := s.collectDue()
	if len(batch) > 0 {
		s.execute(ctx, batch)
		next, hasNext = s.requeue(batch)
	}
	s.wait(next, hasNext, stopCh)
}

// collectDue pops every due task under the lock: disabled tasks are
// physically removed, throttled and dependency-blocked ones are pushed
// back with a backoff, the rest form the ready batch.
func (s *Service) collectDue() ([]*Task, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := clock.Now()
	var batch []*Task
	var deferred []*Task
	for s.queue.Len() > 0 && !s.queue[0].NextRun.After(now) {
		task := heap.Pop(&s.queue).(*Task)
		if !task.Enabled {
			delete(s.tasks, task.ID)
			if s.names[task.Name] == task.ID {
				delete(s.names, task.Name)
			}
			continue
		}
		if s.shouldThrottleLocked(task) {
			task.NextRun = now.Add(s.config.ThrottleBackoff)
			deferred = append(deferred, task)
			continue
		}
		if !s.dependenciesMetLocked(task) {
			task.NextRun = now.Add(s.config.DependencyBackoff)
			deferred = append(deferred, task)
			continue
		}
		batch = append(batch, task)
	}
	for _, task := range deferred {
		heap.Push(&s.queue, task)
	}
	if s.queue.Len() == 0 {
		return batch, time.Time{}, false
	}
	return batch, s.queue[0].NextRun, true
}

// dependenciesMetLocked reports whether every referenced task (matched by
// id first, then name) exists and has executed at least once.
func (s *Service) dependenciesMetLocked(task *Task) bool {
	for _, ref := range task.Dependencies {
		dependency, ok := s.tasks[ref]
		if !ok {
			if id, named := s.names[ref]; named {
				dependency, ok = s.tasks[id]
			}
		}
		if !ok || dependency.Runs < 1 {
			return false
		}
	}
	return true
}

// execute runs the ready batch outside the queue lock, highest priority
// first. A failing callback is isolated and logged; it never halts the
// loop or the rest of the batch.
func (s *Service) execute(ctx context.Context, batch []*Task) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Priority > batch[j].Priority
	})
	for _, task := range batch {
		s.invoke(ctx, task)
	}
}

func (s *Service) invoke(ctx context.Context, task *Task) {
	_, span := tracing.StartSpan(ctx, "scheduler.execute", "INTERNAL")
	span.WithAttributes(map[string]string{"task": task.ID, "priority": task.Priority.String()})
	s.executing.Add(1)
	defer s.executing.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task %s callback failed: %v", task.ID, r)
			log.Printf("%v", err)
			tracing.EndSpan(span, err)
		} else {
			tracing.EndSpan(span, nil)
		}
	}()
	task.Callback()
}

// requeue pushes the executed tasks back with advanced next-run times and
// returns the new queue minimum.
func (s *Service) requeue(batch []*Task) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := clock.Now()
	for _, task := range batch {
		task.Runs++
		task.LastRun = now
		task.NextRun = now.Add(task.Interval)
		s.totalRuns.Add(1)
		if !task.Enabled {
			delete(s.tasks, task.ID)
			if s.names[task.Name] == task.ID {
				delete(s.names, task.Name)
			}
			continue
		}
		heap.Push(&s.queue, task)
	}
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].NextRun, true
}

// wait applies the hybrid policy: block on the wake signal while the next
// task is further away than the spin threshold, then spin out the
// remainder. Stop is observed at every wake and spin boundary.
func (s *Service) wait(next time.Time, hasNext bool, stopCh chan struct{}) {
	if !hasNext {
		timer := time.NewTimer(s.config.IdleWait)
		defer timer.Stop()
		select {
		case <-stopCh:
		case <-s.wakeCh:
		case <-timer.C:
		}
		return
	}
	delta := next.Sub(clock.Now())
	if delta <= 0 {
		return
	}
	if delta > s.config.SpinThreshold {
		timer := time.NewTimer(delta - s.config.SpinThreshold)
		defer timer.Stop()
		select {
		case <-stopCh:
			return
		case <-s.wakeCh:
			return
		case <-timer.C:
		}
	}
	// Spin out the final stretch for sub-millisecond precision on
	// imminent tasks.
	for clock.Now().Before(next) {
		select {
		case <-stopCh:
			return
		default:
		}
		runtime.Gosched()
	}
}

// refreshLoop periodically queries the coordinator's pressure over the bus
// and caches the answer for the next throttling window.
func (s *Service) refreshLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.refreshWg.Done()
	ticker := time.NewTicker(s.config.PressureInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshPressure(ctx)
		}
	}
}

// refreshPressure issues one pressure query. A timeout is logged and
// leaves the previously cached tier in effect; it is never retried.
func (s *Service) refreshPressure(ctx context.Context) {
	env := mbus.NewEnvelope(mbus.KindMemoryPressure, Name, coordinatorTarget, mbus.PriorityHigh, mbus.MemoryPressureRequest{})
	reply, err := s.bus.Request(ctx, env, s.config.PressureTimeout)
	if err != nil {
		log.Printf("pressure query %s failed: %v", env.CorrelationID, err)
		return
	}
	pressure, ok := reply.Payload.(mbus.MemoryPressure)
	if !ok {
		log.Printf("pressure query %s returned unexpected payload %T", env.CorrelationID, reply.Payload)
		return
	}
	s.updatePressure(pressure.Overall)
}

// updatePressure caches a fresh tier and adjusts the concurrency cap. Only
// the scheduler's own refresh routine writes this state.
func (s *Service) updatePressure(tier mbus.Tier) {
	s.pressureMu.Lock()
	defer s.pressureMu.Unlock()
	s.cachedTier = tier
	if cap, ok := s.config.ConcurrencyCaps[tier]; ok {
		s.maxConcurrent = cap
	}
	s.lastPressure = clock.Now()
}

func (s *Service) pressureView() (mbus.Tier, int) {
	s.pressureMu.RLock()
	defer s.pressureMu.RUnlock()
	return s.cachedTier, s.maxConcurrent
}
