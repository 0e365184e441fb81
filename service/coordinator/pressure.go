package coordinator

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/viant/pacer/service/event"
	"github.com/viant/pacer/service/mbus"
)

// DetectPressure computes the per-pool and aggregate pressure view. The
// aggregate tier is the maximum tier across all pools. When the aggregate
// reaches high or critical an internal alert event is raised.
func (s *Service) DetectPressure(ctx context.Context) mbus.MemoryPressure {
	s.mu.Lock()
	result := mbus.MemoryPressure{Overall: mbus.TierLow}
	for _, pool := range s.pools {
		result.Pools = append(result.Pools, mbus.PoolPressure{
			Type:          pool.Type,
			Tier:          pool.Tier,
			Utilization:   pool.Utilization(),
			Fragmentation: pool.Fragmentation,
		})
		if pool.Tier > result.Overall {
			result.Overall = pool.Tier
		}
		if pool.Tier >= mbus.TierHigh {
			result.Stressed = append(result.Stressed, pool.Type)
		}
		if pool.Tier == mbus.TierCritical {
			result.Recommendations = append(result.Recommendations, recommendationFor(pool.Type))
		}
	}
	s.mu.Unlock()

	sort.Slice(result.Pools, func(i, j int) bool {
		return result.Pools[i].Type < result.Pools[j].Type
	})
	if result.Overall >= mbus.TierHigh {
		result.Recommendations = append(result.Recommendations, "defer low priority workloads")
		s.raiseAlert(ctx, result)
	}
	return result
}

func recommendationFor(poolType mbus.PoolType) string {
	switch poolType {
	case mbus.PoolAttention:
		return "run defragmentation on the attention block pool"
	case mbus.PoolGraphics:
		return "release cached graphics memory"
	case mbus.PoolCache:
		return "evict cold entries from the fast cache pool"
	case mbus.PoolSRAM:
		return "shrink on-chip cache residency"
	default:
		return fmt.Sprintf("reduce resident working set in the %s pool", poolType)
	}
}

func (s *Service) raiseAlert(ctx context.Context, pressure mbus.MemoryPressure) {
	alert := PressureAlert{
		Overall:  pressure.Overall,
		Stressed: pressure.Stressed,
		Detail:   fmt.Sprintf("aggregate pressure %s across %d pools", pressure.Overall, len(pressure.Pools)),
	}
	eventCtx := &event.Context{Component: Name, EventType: "pressure_alert"}
	if err := s.alerts.Publish(ctx, event.NewEvent(eventCtx, alert)); err != nil {
		log.Printf("failed to publish pressure alert: %v", err)
	}
}
