package mbus

import (
	"time"

	"github.com/viant/pacer/internal/clock"
	"github.com/viant/pacer/internal/idgen"
)

// Kind identifies a query/response family on the bus.
type Kind string

const (
	// Kinds answered by the scheduler
	KindScheduleInfo      Kind = "schedule_info"
	KindTaskStats         Kind = "task_stats"
	KindSchedulerStatus   Kind = "scheduler_status"
	KindResourceInfo      Kind = "resource_info"
	KindAllocationRequest Kind = "memory_allocation_request"

	// Kinds answered by the coordinator
	KindMemoryStats       Kind = "memory_stats"
	KindMemoryPressure    Kind = "memory_pressure"
	KindHealthCheck       Kind = "health_check"
	KindActiveAllocations Kind = "active_allocations"

	// KindResponse carries the reply leg of a correlated exchange.
	KindResponse Kind = "response"
)

// Priority is the bus-level delivery priority, independent of task priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Envelope is the unit of exchange on the bus. Exactly one response envelope
// with a matching correlation id is expected per request; its absence before
// the caller's deadline is a timeout, not an error.
type Envelope struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Source        string    `json:"source,omitempty"`
	Target        string    `json:"target,omitempty"`
	Priority      Priority  `json:"priority"`
	Payload       Payload   `json:"payload,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewEnvelope builds a request envelope with a fresh id and correlation id.
func NewEnvelope(kind Kind, source, target string, priority Priority, payload Payload) *Envelope {
	return &Envelope{
		ID:            idgen.New(),
		Kind:          kind,
		CorrelationID: idgen.New(),
		Source:        source,
		Target:        target,
		Priority:      priority,
		Payload:       payload,
		CreatedAt:     clock.Now(),
	}
}

// Reply builds the response envelope for this request, preserving the
// correlation id and swapping source and target.
func (e *Envelope) Reply(payload Payload) *Envelope {
	return &Envelope{
		ID:            idgen.New(),
		Kind:          KindResponse,
		CorrelationID: e.CorrelationID,
		Source:        e.Target,
		Target:        e.Source,
		Priority:      e.Priority,
		Payload:       payload,
		CreatedAt:     clock.Now(),
	}
}
