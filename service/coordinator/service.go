package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/pacer/internal/clock"
	"github.com/viant/pacer/service/event"
	"github.com/viant/pacer/service/mbus"
	"github.com/viant/pacer/tracing"
)

// Name identifies the coordinator on the bus.
const Name = "coordinator"

// Config represents coordinator configuration.
type Config struct {
	// PoolSizes fixes the closed pool set and capacities (MB) at
	// construction time.
	PoolSizes map[mbus.PoolType]int64 `json:"poolSizes" yaml:"poolSizes"`

	// PressureInterval is how often the pressure loop re-evaluates tiers.
	PressureInterval time.Duration `json:"pressureInterval" yaml:"pressureInterval"`

	// CleanupInterval is how often the cleanup loop sweeps the pools.
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval"`

	// MetricsInterval is how often the metrics loop logs a summary line.
	MetricsInterval time.Duration `json:"metricsInterval" yaml:"metricsInterval"`

	// CleanupAge is the minimum age before an allocation is reclaimable.
	CleanupAge time.Duration `json:"cleanupAge" yaml:"cleanupAge"`

	// CleanupPriorityCeiling is the highest priority cleanup may reclaim.
	CleanupPriorityCeiling int `json:"cleanupPriorityCeiling" yaml:"cleanupPriorityCeiling"`

	// DefragTrigger is the fragmentation ratio above which the attention
	// pool gets a defragmentation pass.
	DefragTrigger float64 `json:"defragTrigger" yaml:"defragTrigger"`

	// DefragMergeCap caps merged blocks as a fraction of total blocks.
	DefragMergeCap float64 `json:"defragMergeCap" yaml:"defragMergeCap"`

	// EmergencyReclaimCap caps how many allocations one emergency
	// reclamation pass may evict.
	EmergencyReclaimCap int `json:"emergencyReclaimCap" yaml:"emergencyReclaimCap"`

	// RecoverySleep is the pause after a recovered loop failure.
	RecoverySleep time.Duration `json:"recoverySleep" yaml:"recoverySleep"`

	// AlertBuffer sizes the pressure-alert event queue.
	AlertBuffer int `json:"alertBuffer" yaml:"alertBuffer"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		PoolSizes: map[mbus.PoolType]int64{
			mbus.PoolUnified:   8192,
			mbus.PoolGraphics:  4096,
			mbus.PoolCache:     2048,
			mbus.PoolSRAM:      64,
			mbus.PoolAttention: 1024,
		},
		PressureInterval:       2 * time.Second,
		CleanupInterval:        30 * time.Second,
		MetricsInterval:        10 * time.Second,
		CleanupAge:             300 * time.Second,
		CleanupPriorityCeiling: 2,
		DefragTrigger:          0.01,
		DefragMergeCap:         0.25,
		EmergencyReclaimCap:    5,
		RecoverySleep:          100 * time.Millisecond,
		AlertBuffer:            100,
	}
}

// Validate returns an aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if len(c.PoolSizes) == 0 {
		return fmt.Errorf("poolSizes cannot be empty")
	}
	for poolType, size := range c.PoolSizes {
		if size <= 0 {
			return fmt.Errorf("pool %s size must be > 0", poolType)
		}
	}
	if c.EmergencyReclaimCap <= 0 {
		return fmt.Errorf("emergencyReclaimCap must be > 0")
	}
	return nil
}

// PressureAlert is raised internally when the aggregate tier reaches high
// or critical.
type PressureAlert struct {
	Overall  mbus.Tier       `json:"overall"`
	Stressed []mbus.PoolType `json:"stressed,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// Service is the resource coordinator.
type Service struct {
	config Config
	bus    mbus.Bus
	alerts *event.Publisher[PressureAlert]

	mu          sync.Mutex
	pools       map[mbus.PoolType]*Pool
	allocations map[string]*Allocation

	allocCount     int64
	failureCount   int64
	meanAllocNanos int64

	running    bool
	shutdownCh chan struct{}
	loopWg     sync.WaitGroup

	pressureBeat atomic.Int64
	cleanupBeat  atomic.Int64
	metricsBeat  atomic.Int64
}

// New creates a coordinator with the supplied bus. The pool set is closed
// here: no pools can be added after construction.
func New(bus mbus.Bus, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		config:      config,
		bus:         bus,
		alerts:      event.NewPublisher[PressureAlert](config.AlertBuffer),
		pools:       make(map[mbus.PoolType]*Pool),
		allocations: make(map[string]*Allocation),
		shutdownCh:  make(chan struct{}),
	}
	for poolType, size := range config.PoolSizes {
		s.pools[poolType] = newPool(poolType, size)
	}
	return s, nil
}

// Alerts exposes the pressure-alert publisher for listeners.
func (s *Service) Alerts() *event.Publisher[PressureAlert] {
	return s.alerts
}

// Allocate reserves size MB in the requested pool. When free capacity is
// insufficient it runs one emergency reclamation pass over that pool and
// re-checks once; it never partially allocates.
func (s *Service) Allocate(ctx context.Context, request Request) (*Allocation, error) {
	started := clock.Now()
	if err := s.validate(&request); err != nil {
		return nil, err
	}
	_, span := tracing.StartSpan(ctx, "coordinator.allocate", "INTERNAL")
	s.mu.Lock()
	pool, ok := s.pools[request.PoolType]
	if !ok {
		s.mu.Unlock()
		err := &ValidationError{Field: "poolType", Reason: fmt.Sprintf("unknown pool %q", request.PoolType)}
		tracing.EndSpan(span, err)
		return nil, err
	}
	if request.Size > pool.Total {
		s.mu.Unlock()
		err := &ValidationError{Field: "size", Reason: fmt.Sprintf("%dMB exceeds pool %s capacity %dMB", request.Size, pool.Type, pool.Total)}
		tracing.EndSpan(span, err)
		return nil, err
	}
	if _, exists := s.allocations[request.ID]; exists {
		s.mu.Unlock()
		err := &ValidationError{Field: "id", Reason: fmt.Sprintf("allocation %q already exists", request.ID)}
		tracing.EndSpan(span, err)
		return nil, err
	}
	if pool.Free < request.Size {
		reclaimed := s.emergencyReclaimLocked(pool)
		if reclaimed > 0 {
			log.Printf("emergency reclamation freed %dMB in pool %s", reclaimed, pool.Type)
		}
		if pool.Free < request.Size {
			s.failureCount++
			free := pool.Free
			s.mu.Unlock()
			err := &ExhaustionError{PoolType: pool.Type, Requested: request.Size, Free: free}
			tracing.EndSpan(span, err)
			return nil, err
		}
	}
	allocation := &Allocation{
		ID:        request.ID,
		PoolType:  request.PoolType,
		Size:      request.Size,
		Priority:  request.Priority,
		CreatedAt: clock.Now(),
		Metadata:  request.Metadata,
	}
	pool.Used += request.Size
	pool.recompute()
	s.allocations[allocation.ID] = allocation
	s.allocCount++
	elapsed := clock.Since(started).Nanoseconds()
	s.meanAllocNanos += (elapsed - s.meanAllocNanos) / s.allocCount
	s.mu.Unlock()
	tracing.EndSpan(span.WithAttributes(map[string]string{"pool": string(pool.Type), "allocation": allocation.ID}), nil)
	return allocation, nil
}

// Deallocate releases a live allocation. Unknown ids return false, not an
// error.
func (s *Service) Deallocate(allocationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deallocateLocked(allocationID)
}

func (s *Service) deallocateLocked(allocationID string) bool {
	allocation, ok := s.allocations[allocationID]
	if !ok {
		return false
	}
	delete(s.allocations, allocationID)
	pool := s.pools[allocation.PoolType]
	if pool == nil {
		return true
	}
	pool.Used -= allocation.Size
	if pool.Used < 0 {
		pool.Used = 0
	}
	pool.recompute()
	if pool.Type == mbus.PoolAttention {
		// Freeing leaves notional holes in the block-structured pool.
		pool.Fragmentation += 0.2 * float64(allocation.Size) / float64(pool.Total)
		if pool.Fragmentation > 1 {
			pool.Fragmentation = 1
		}
	}
	return true
}

func (s *Service) validate(request *Request) error {
	if request.ID == "" {
		return &ValidationError{Field: "id", Reason: "cannot be empty"}
	}
	if request.Size <= 0 {
		return &ValidationError{Field: "size", Reason: "must be > 0"}
	}
	if request.Priority < 1 || request.Priority > 5 {
		return &ValidationError{Field: "priority", Reason: "must be in [1,5]"}
	}
	if request.Timeout <= 0 {
		return &ValidationError{Field: "timeout", Reason: "must be > 0"}
	}
	return nil
}

// HealthCheck reports true iff the background loops are alive, no pool
// exceeds the critical utilisation threshold and the bus is present.
func (s *Service) HealthCheck() bool {
	s.mu.Lock()
	running := s.running
	overloaded := false
	for _, pool := range s.pools {
		if pool.Utilization() > criticalThreshold {
			overloaded = true
			break
		}
	}
	s.mu.Unlock()
	return running && s.loopsLive() && !overloaded && s.bus != nil
}

func (s *Service) loopsLive() bool {
	now := clock.Now().UnixNano()
	beats := []struct {
		beat     *atomic.Int64
		interval time.Duration
	}{
		{&s.pressureBeat, s.config.PressureInterval},
		{&s.cleanupBeat, s.config.CleanupInterval},
		{&s.metricsBeat, s.config.MetricsInterval},
	}
	for _, b := range beats {
		last := b.beat.Load()
		if last == 0 || now-last > 3*b.interval.Nanoseconds() {
			return false
		}
	}
	return true
}

// Start spawns the pressure, cleanup and metrics loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	now := clock.Now().UnixNano()
	s.pressureBeat.Store(now)
	s.cleanupBeat.Store(now)
	s.metricsBeat.Store(now)

	s.loopWg.Add(3)
	go s.loop(ctx, "pressure", s.config.PressureInterval, &s.pressureBeat, func() {
		s.DetectPressure(ctx)
	})
	go s.loop(ctx, "cleanup", s.config.CleanupInterval, &s.cleanupBeat, func() {
		s.TriggerCleanup()
	})
	go s.loop(ctx, "metrics", s.config.MetricsInterval, &s.metricsBeat, func() {
		s.logMetrics()
	})
	return nil
}

// loop drives one background routine. Failures are recovered locally: a
// coordinator that stops running is strictly worse than one that skips a
// bad iteration.
func (s *Service) loop(ctx context.Context, name string, interval time.Duration, beat *atomic.Int64, fn func()) {
	defer s.loopWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			beat.Store(clock.Now().UnixNano())
			s.guard(name, fn)
		}
	}
}

func (s *Service) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s loop failure: %v", name, r)
			time.Sleep(s.config.RecoverySleep)
		}
	}()
	fn()
}

// Shutdown stops all loops and releases every outstanding allocation.
// Idempotent.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	close(s.shutdownCh)
	s.loopWg.Wait()

	s.mu.Lock()
	for id := range s.allocations {
		s.deallocateLocked(id)
	}
	s.mu.Unlock()
}

func (s *Service) logMetrics() {
	s.mu.Lock()
	allocations := len(s.allocations)
	failures := s.failureCount
	var summary string
	for _, pool := range s.pools {
		summary += fmt.Sprintf(" %s=%.0f%%", pool.Type, pool.Utilization()*100)
	}
	s.mu.Unlock()
	log.Printf("pools:%s allocations=%d failures=%d", summary, allocations, failures)
}

// Stats returns the coordinator's bookkeeping snapshot.
func (s *Service) Stats() mbus.MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := mbus.MemoryStats{
		AllocationCount: len(s.allocations),
		FailureCount:    s.failureCount,
		MeanAllocTime:   time.Duration(s.meanAllocNanos),
	}
	for _, pool := range s.pools {
		stats.Pools = append(stats.Pools, pool.stat())
	}
	return stats
}

// ActiveAllocations returns a snapshot of live allocations.
func (s *Service) ActiveAllocations() []mbus.AllocationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]mbus.AllocationInfo, 0, len(s.allocations))
	for _, allocation := range s.allocations {
		result = append(result, allocation.info())
	}
	return result
}

// Pool returns a copy of the named pool's record for inspection.
func (s *Service) Pool(poolType mbus.PoolType) (Pool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[poolType]
	if !ok {
		return Pool{}, false
	}
	return *pool, true
}

// SetFragmentation overrides a pool's fragmentation ratio. Intended for
// operational tooling and tests.
func (s *Service) SetFragmentation(poolType mbus.PoolType, ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return &ValidationError{Field: "ratio", Reason: "must be in [0,1]"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[poolType]
	if !ok {
		return &ValidationError{Field: "poolType", Reason: fmt.Sprintf("unknown pool %q", poolType)}
	}
	pool.Fragmentation = ratio
	return nil
}
