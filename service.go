package pacer

import (
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/pacer/service/coordinator"
	"github.com/viant/pacer/service/mbus"
	busfs "github.com/viant/pacer/service/mbus/fs"
	"github.com/viant/pacer/service/mbus/memory"
	"github.com/viant/pacer/service/scheduler"
)

// Service composes the bus, the resource coordinator and the task
// scheduler. The bus is always constructed (or injected) explicitly and
// handed to both components; nothing reaches it through ambient state.
type Service struct {
	config  *Config
	bus     mbus.Bus
	journal mbus.Journal
	runtime *Runtime
}

// New creates the engine and wires its components.
func New(options ...Option) (*Service, error) {
	s := &Service{}
	for _, option := range options {
		option(s)
	}
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	var ownedBus *memory.Bus
	if s.bus == nil {
		if s.journal == nil && s.config.JournalURL != "" {
			journal, err := busfs.New(afs.New(), busfs.Config{BaseURL: s.config.JournalURL})
			if err != nil {
				return nil, fmt.Errorf("failed to create journal: %w", err)
			}
			s.journal = journal
		}
		var busOptions []memory.Option
		if s.journal != nil {
			busOptions = append(busOptions, memory.WithJournal(s.journal))
		}
		ownedBus = memory.New(s.config.Bus, busOptions...)
		s.bus = ownedBus
	}

	coordinatorService, err := coordinator.New(s.bus, s.config.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	schedulerService, err := scheduler.New(s.bus, s.config.Scheduler)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := coordinatorService.RegisterHandlers(s.bus); err != nil {
		return nil, err
	}
	if err := schedulerService.RegisterHandlers(s.bus); err != nil {
		return nil, err
	}
	s.runtime = &Runtime{
		bus:         s.bus,
		ownedBus:    ownedBus,
		scheduler:   schedulerService,
		coordinator: coordinatorService,
	}
	return s, nil
}

// Runtime returns the runtime handle.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}
