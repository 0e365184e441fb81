package coordinator

import (
	"context"
	"fmt"

	"github.com/viant/pacer/service/mbus"
)

// RegisterHandlers subscribes the coordinator's query handlers on the bus.
func (s *Service) RegisterHandlers(bus mbus.Bus) error {
	handlers := map[mbus.Kind]mbus.Handler{
		mbus.KindMemoryStats:       s.handleMemoryStats,
		mbus.KindMemoryPressure:    s.handleMemoryPressure,
		mbus.KindHealthCheck:       s.handleHealthCheck,
		mbus.KindActiveAllocations: s.handleActiveAllocations,
	}
	for kind, handler := range handlers {
		if err := bus.Subscribe(kind, Name, handler); err != nil {
			return fmt.Errorf("failed to subscribe %s handler: %w", kind, err)
		}
	}
	return nil
}

// UnregisterHandlers removes the coordinator's subscriptions.
func (s *Service) UnregisterHandlers(bus mbus.Bus) {
	for _, kind := range []mbus.Kind{mbus.KindMemoryStats, mbus.KindMemoryPressure, mbus.KindHealthCheck, mbus.KindActiveAllocations} {
		bus.Unsubscribe(kind, Name)
	}
}

func (s *Service) handleMemoryStats(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	return s.Stats(), nil
}

func (s *Service) handleMemoryPressure(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	return s.DetectPressure(ctx), nil
}

func (s *Service) handleHealthCheck(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	healthy := s.HealthCheck()
	status := mbus.HealthStatus{Healthy: healthy, LoopsLive: s.loopsLive()}
	if !healthy {
		status.Detail = "coordinator degraded"
	}
	return status, nil
}

func (s *Service) handleActiveAllocations(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
	return mbus.ActiveAllocations{Allocations: s.ActiveAllocations()}, nil
}
