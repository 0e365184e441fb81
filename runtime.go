package pacer

import (
	"context"
	"fmt"

	"github.com/viant/pacer/service/coordinator"
	"github.com/viant/pacer/service/mbus"
	"github.com/viant/pacer/service/mbus/memory"
	"github.com/viant/pacer/service/scheduler"
)

// Runtime starts and stops the engine's components and exposes them to the
// host application.
type Runtime struct {
	bus         mbus.Bus
	ownedBus    *memory.Bus
	scheduler   *scheduler.Service
	coordinator *coordinator.Service
}

// Start spawns the coordinator's background loops and the scheduling loop.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	if err := r.scheduler.Start(ctx); err != nil {
		r.coordinator.Shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler, then the coordinator, then the bus when
// this runtime owns it. Idempotent.
func (r *Runtime) Shutdown() {
	r.scheduler.Stop()
	r.coordinator.Shutdown()
	if r.ownedBus != nil {
		r.ownedBus.Shutdown()
	}
}

// Scheduler returns the task scheduler.
func (r *Runtime) Scheduler() *scheduler.Service {
	return r.scheduler
}

// Coordinator returns the resource coordinator.
func (r *Runtime) Coordinator() *coordinator.Service {
	return r.coordinator
}

// Bus returns the message bus shared by both components.
func (r *Runtime) Bus() mbus.Bus {
	return r.bus
}
