package mbus

import "time"

// Tier classifies resource pressure. It lives here, on the wire contract,
// so that the scheduler and the coordinator can exchange it without
// depending on each other.
type Tier int

const (
	TierLow Tier = iota
	TierModerate
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierModerate:
		return "moderate"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	}
	return "unknown"
}

// PoolType names one of the closed set of typed memory pools.
type PoolType string

const (
	PoolUnified   PoolType = "unified"
	PoolGraphics  PoolType = "graphics"
	PoolCache     PoolType = "cache"
	PoolSRAM      PoolType = "sram"
	PoolAttention PoolType = "attention"
)

// Payload is a closed union: one variant per query kind, so that handlers
// can type-switch exhaustively and payload shape is checked at compile time.
type Payload interface {
	payloadKind() Kind
}

// --- scheduler-answered kinds ---

// ScheduleInfoRequest asks the scheduler for a registry summary.
type ScheduleInfoRequest struct{}

// UpcomingTask summarises one entry of the schedule queue.
type UpcomingTask struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Priority int       `json:"priority"`
	NextRun  time.Time `json:"nextRun"`
}

// ScheduleInfo is the reply to ScheduleInfoRequest.
type ScheduleInfo struct {
	TotalTasks   int            `json:"totalTasks"`
	EnabledTasks int            `json:"enabledTasks"`
	Upcoming     []UpcomingTask `json:"upcoming,omitempty"`
	LoadEstimate float64        `json:"loadEstimate"`
}

// TaskStatsRequest asks the scheduler for execution statistics.
type TaskStatsRequest struct{}

// TaskStats is the reply to TaskStatsRequest.
type TaskStats struct {
	TotalExecutions int64  `json:"totalExecutions"`
	MostActive      string `json:"mostActive,omitempty"`
	MostRecent      string `json:"mostRecent,omitempty"`
}

// SchedulerStatusRequest asks whether the scheduling loop is up.
type SchedulerStatusRequest struct{}

// SchedulerStatus is the reply to SchedulerStatusRequest.
type SchedulerStatus struct {
	Running   bool `json:"running"`
	LoopAlive bool `json:"loopAlive"`
}

// ResourceInfoRequest asks the scheduler for its throttling view.
type ResourceInfoRequest struct{}

// ResourceInfo is the reply to ResourceInfoRequest.
type ResourceInfo struct {
	CachedTier    Tier `json:"cachedTier"`
	MaxConcurrent int  `json:"maxConcurrent"`
	Executing     int  `json:"executing"`
}

// AllocationRequest delegates an approve/deny admission decision to the
// scheduler. The scheduler answers from its cached tier; the request is
// never forwarded to the coordinator.
type AllocationRequest struct {
	ID       string   `json:"id"`
	PoolType PoolType `json:"poolType"`
	Size     int64    `json:"size"`
	Priority int      `json:"priority"`
}

// AllocationDecision is the reply to AllocationRequest.
type AllocationDecision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// --- coordinator-answered kinds ---

// MemoryStatsRequest asks the coordinator for pool bookkeeping.
type MemoryStatsRequest struct{}

// PoolStat is one pool's bookkeeping snapshot.
type PoolStat struct {
	Type          PoolType  `json:"type"`
	Total         int64     `json:"total"`
	Used          int64     `json:"used"`
	Free          int64     `json:"free"`
	Utilization   float64   `json:"utilization"`
	Fragmentation float64   `json:"fragmentation"`
	Tier          Tier      `json:"tier"`
	LastCleanup   time.Time `json:"lastCleanup,omitempty"`
}

// MemoryStats is the reply to MemoryStatsRequest.
type MemoryStats struct {
	Pools           []PoolStat    `json:"pools"`
	AllocationCount int           `json:"allocationCount"`
	FailureCount    int64         `json:"failureCount"`
	MeanAllocTime   time.Duration `json:"meanAllocTime"`
}

// MemoryPressureRequest asks the coordinator for its pressure view.
type MemoryPressureRequest struct{}

// PoolPressure is one pool's pressure snapshot.
type PoolPressure struct {
	Type          PoolType `json:"type"`
	Tier          Tier     `json:"tier"`
	Utilization   float64  `json:"utilization"`
	Fragmentation float64  `json:"fragmentation"`
}

// MemoryPressure is the reply to MemoryPressureRequest.
type MemoryPressure struct {
	Overall         Tier           `json:"overall"`
	Pools           []PoolPressure `json:"pools"`
	Stressed        []PoolType     `json:"stressed,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// HealthCheckRequest asks the coordinator whether it is healthy.
type HealthCheckRequest struct{}

// HealthStatus is the reply to HealthCheckRequest.
type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	LoopsLive bool   `json:"loopsLive"`
	Detail    string `json:"detail,omitempty"`
}

// ActiveAllocationsRequest asks the coordinator for live allocations.
type ActiveAllocationsRequest struct{}

// AllocationInfo describes one live allocation.
type AllocationInfo struct {
	ID        string    `json:"id"`
	PoolType  PoolType  `json:"poolType"`
	Size      int64     `json:"size"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActiveAllocations is the reply to ActiveAllocationsRequest.
type ActiveAllocations struct {
	Allocations []AllocationInfo `json:"allocations"`
}

func (ScheduleInfoRequest) payloadKind() Kind      { return KindScheduleInfo }
func (ScheduleInfo) payloadKind() Kind             { return KindScheduleInfo }
func (TaskStatsRequest) payloadKind() Kind         { return KindTaskStats }
func (TaskStats) payloadKind() Kind                { return KindTaskStats }
func (SchedulerStatusRequest) payloadKind() Kind   { return KindSchedulerStatus }
func (SchedulerStatus) payloadKind() Kind          { return KindSchedulerStatus }
func (ResourceInfoRequest) payloadKind() Kind      { return KindResourceInfo }
func (ResourceInfo) payloadKind() Kind             { return KindResourceInfo }
func (AllocationRequest) payloadKind() Kind        { return KindAllocationRequest }
func (AllocationDecision) payloadKind() Kind       { return KindAllocationRequest }
func (MemoryStatsRequest) payloadKind() Kind       { return KindMemoryStats }
func (MemoryStats) payloadKind() Kind              { return KindMemoryStats }
func (MemoryPressureRequest) payloadKind() Kind    { return KindMemoryPressure }
func (MemoryPressure) payloadKind() Kind           { return KindMemoryPressure }
func (HealthCheckRequest) payloadKind() Kind       { return KindHealthCheck }
func (HealthStatus) payloadKind() Kind             { return KindHealthCheck }
func (ActiveAllocationsRequest) payloadKind() Kind { return KindActiveAllocations }
func (ActiveAllocations) payloadKind() Kind        { return KindActiveAllocations }
