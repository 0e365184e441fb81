package coordinator

import (
	"time"

	"github.com/viant/pacer/service/mbus"
)

// Utilisation thresholds mapping onto pressure tiers.
const (
	moderateThreshold = 0.60
	highThreshold     = 0.80
	criticalThreshold = 0.95
)

// Pool is a typed, fixed-capacity resource budget. All sizes are megabytes.
// Invariant: Used + Free == Total at every observable point.
type Pool struct {
	Type          mbus.PoolType `json:"type"`
	Total         int64         `json:"total"`
	Used          int64         `json:"used"`
	Free          int64         `json:"free"`
	Fragmentation float64       `json:"fragmentation"`
	Tier          mbus.Tier     `json:"tier"`
	LastCleanup   time.Time     `json:"lastCleanup,omitempty"`
}

func newPool(poolType mbus.PoolType, total int64) *Pool {
	p := &Pool{Type: poolType, Total: total, Free: total}
	p.recompute()
	return p
}

// Utilization returns Used/Total in [0,1].
func (p *Pool) Utilization() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Used) / float64(p.Total)
}

// recompute re-derives Free and the pressure tier after a bookkeeping
// change. The tier is a deterministic step function of utilisation.
func (p *Pool) recompute() {
	p.Free = p.Total - p.Used
	p.Tier = tierFor(p.Utilization())
}

func tierFor(utilization float64) mbus.Tier {
	switch {
	case utilization < moderateThreshold:
		return mbus.TierLow
	case utilization < highThreshold:
		return mbus.TierModerate
	case utilization < criticalThreshold:
		return mbus.TierHigh
	default:
		return mbus.TierCritical
	}
}

func (p *Pool) stat() mbus.PoolStat {
	return mbus.PoolStat{
		Type:          p.Type,
		Total:         p.Total,
		Used:          p.Used,
		Free:          p.Free,
		Utilization:   p.Utilization(),
		Fragmentation: p.Fragmentation,
		Tier:          p.Tier,
		LastCleanup:   p.LastCleanup,
	}
}
