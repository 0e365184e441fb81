package coordinator

import (
	"log"
	"sort"

	"github.com/viant/pacer/internal/clock"
	"github.com/viant/pacer/service/mbus"
)

// TriggerCleanup reclaims aged low-priority allocations. With pool types
// given it cleans only those pools; otherwise it cleans every pool, worst
// pressure tier first. It returns the total megabytes freed.
func (s *Service) TriggerCleanup(poolTypes ...mbus.PoolType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pools []*Pool
	if len(poolTypes) > 0 {
		for _, poolType := range poolTypes {
			if pool, ok := s.pools[poolType]; ok {
				pools = append(pools, pool)
			}
		}
	} else {
		for _, pool := range s.pools {
			pools = append(pools, pool)
		}
		sort.Slice(pools, func(i, j int) bool {
			return pools[i].Tier > pools[j].Tier
		})
	}

	var freed int64
	for _, pool := range pools {
		freed += s.cleanPoolLocked(pool)
	}
	if freed > 0 {
		log.Printf("cleanup freed %dMB", freed)
	}
	return freed
}

// cleanPoolLocked reclaims allocations older than CleanupAge whose priority
// is at or below the ceiling, then defragments the attention pool.
func (s *Service) cleanPoolLocked(pool *Pool) int64 {
	now := clock.Now()
	var victims []string
	for id, allocation := range s.allocations {
		if allocation.PoolType != pool.Type {
			continue
		}
		if allocation.Priority > s.config.CleanupPriorityCeiling {
			continue
		}
		if now.Sub(allocation.CreatedAt) <= s.config.CleanupAge {
			continue
		}
		victims = append(victims, id)
	}
	var freed int64
	for _, id := range victims {
		size := s.allocations[id].Size
		if s.deallocateLocked(id) {
			freed += size
		}
	}
	pool.LastCleanup = now
	if pool.Type == mbus.PoolAttention {
		if merged := s.defragmentLocked(pool); merged > 0 {
			log.Printf("defragmentation merged %d blocks in pool %s", merged, pool.Type)
		}
	}
	return freed
}

// defragmentLocked runs the closed-form defragmentation estimator over the
// notional block model (blocks = used MB * 1024): estimate fragmented
// blocks from the current ratio, merge at most DefragMergeCap of the total,
// and scale the ratio down by the merged fraction. It is an estimator, not
// a memory-compaction routine.
func (s *Service) defragmentLocked(pool *Pool) int64 {
	if pool.Fragmentation <= s.config.DefragTrigger {
		return 0
	}
	totalBlocks := pool.Used * 1024
	if totalBlocks <= 0 {
		return 0
	}
	fragmented := int64(pool.Fragmentation * float64(totalBlocks))
	mergeCap := int64(s.config.DefragMergeCap * float64(totalBlocks))
	merged := fragmented
	if merged > mergeCap {
		merged = mergeCap
	}
	pool.Fragmentation -= float64(merged) / float64(totalBlocks)
	if pool.Fragmentation < 0 {
		pool.Fragmentation = 0
	}
	return merged
}

// emergencyReclaimLocked frees headroom in one pool before an allocation
// re-check: live allocations are sorted by priority ascending and up to
// half of them (capped at EmergencyReclaimCap) are deallocated.
func (s *Service) emergencyReclaimLocked(pool *Pool) int64 {
	var candidates []*Allocation
	for _, allocation := range s.allocations {
		if allocation.PoolType == pool.Type {
			candidates = append(candidates, allocation)
		}
	}
	if len(candidates) == 0 {
		return 0
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	limit := len(candidates) / 2
	if limit > s.config.EmergencyReclaimCap {
		limit = s.config.EmergencyReclaimCap
	}
	var freed int64
	for i := 0; i < limit; i++ {
		size := candidates[i].Size
		if s.deallocateLocked(candidates[i].ID) {
			freed += size
		}
	}
	return freed
}
