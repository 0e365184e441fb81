package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/pacer/service/mbus"
)

// Config holds configuration for the filesystem journal.
type Config struct {
	// BaseURL is the afs location journal entries are written under
	// (file://, mem://, s3:// etc.).
	BaseURL string
}

// DefaultConfig returns a default journal configuration.
func DefaultConfig() Config {
	return Config{BaseURL: "/tmp/pacer/journal"}
}

// record is the serialised form of a journaled envelope. Payload is kept as
// an opaque document; the journal is a write-only audit trail, never read
// back by the bus.
type record struct {
	ID            string        `json:"id"`
	Kind          mbus.Kind     `json:"kind"`
	CorrelationID string        `json:"correlationId,omitempty"`
	Source        string        `json:"source,omitempty"`
	Target        string        `json:"target,omitempty"`
	Priority      mbus.Priority `json:"priority"`
	Payload       interface{}   `json:"payload,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	RecordedAt    time.Time     `json:"recordedAt"`
}

// Journal persists bus envelopes as JSON documents grouped by kind.
type Journal struct {
	fs      afs.Service
	baseURL string
}

// New creates a filesystem journal rooted at config.BaseURL.
func New(fs afs.Service, config Config) (*Journal, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	return &Journal{fs: fs, baseURL: config.BaseURL}, nil
}

// Record writes the envelope under <baseURL>/<kind>/<id>.json.
func (j *Journal) Record(ctx context.Context, env *mbus.Envelope) error {
	if env == nil {
		return fmt.Errorf("envelope cannot be nil")
	}
	entry := record{
		ID:            env.ID,
		Kind:          env.Kind,
		CorrelationID: env.CorrelationID,
		Source:        env.Source,
		Target:        env.Target,
		Priority:      env.Priority,
		Payload:       env.Payload,
		CreatedAt:     env.CreatedAt,
		RecordedAt:    time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record %s: %w", env.ID, err)
	}
	URL := url.Join(j.baseURL, string(env.Kind), env.ID+".json")
	if err := j.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewBuffer(data)); err != nil {
		return fmt.Errorf("failed to journal envelope %s: %w", env.ID, err)
	}
	return nil
}

// ensure Journal implements the mbus.Journal interface
var _ mbus.Journal = (*Journal)(nil)
