package pacer

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/pacer/service/coordinator"
	"github.com/viant/pacer/service/mbus/memory"
	"github.com/viant/pacer/service/scheduler"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the engine configuration. It
// can be populated from YAML or JSON; the zero-value of every nested field
// inherits its package defaults.
type Config struct {
	Scheduler   scheduler.Config   `json:"scheduler" yaml:"scheduler"`
	Coordinator coordinator.Config `json:"coordinator" yaml:"coordinator"`
	Bus         memory.Config      `json:"bus" yaml:"bus"`

	// JournalURL, when set, enables the afs-backed envelope journal
	// (file://, mem://, s3:// etc.).
	JournalURL string `json:"journalURL" yaml:"journalURL"`
}

// DefaultConfig returns a Config populated with every package default.
func DefaultConfig() *Config {
	return &Config{
		Scheduler:   scheduler.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Bus:         memory.DefaultConfig(),
	}
}

// Validate returns an aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML configuration from the supplied afs URL, layered
// over DefaultConfig.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", URL, err)
	}
	return config, nil
}
