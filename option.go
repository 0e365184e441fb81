package pacer

import (
	"github.com/viant/pacer/service/mbus"
)

// Option customises the Service.
type Option func(s *Service)

// WithConfig sets the engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithBus injects an externally constructed bus. The caller keeps
// ownership: Shutdown will not close it.
func WithBus(bus mbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithJournal records all bus traffic to the supplied journal. It only
// applies to the bus the service constructs itself.
func WithJournal(journal mbus.Journal) Option {
	return func(s *Service) { s.journal = journal }
}
