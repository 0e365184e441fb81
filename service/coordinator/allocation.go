package coordinator

import (
	"time"

	"github.com/viant/pacer/service/mbus"
)

// Request describes one allocation attempt against a typed pool.
type Request struct {
	ID       string            `json:"id"`
	PoolType mbus.PoolType     `json:"poolType"`
	Size     int64             `json:"size"`
	Priority int               `json:"priority"`
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Allocation is a live reservation inside a pool. It is owned exclusively
// by the coordinator: created on a successful Allocate, destroyed on
// Deallocate or shutdown.
type Allocation struct {
	ID        string            `json:"id"`
	PoolType  mbus.PoolType     `json:"poolType"`
	Size      int64             `json:"size"`
	Priority  int               `json:"priority"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (a *Allocation) info() mbus.AllocationInfo {
	return mbus.AllocationInfo{
		ID:        a.ID,
		PoolType:  a.PoolType,
		Size:      a.Size,
		Priority:  a.Priority,
		CreatedAt: a.CreatedAt,
	}
}
