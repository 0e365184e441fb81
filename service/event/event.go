package event

import "time"

// Context carries provenance for an emitted event.
type Context struct {
	Component string `json:"component"`
	EventType string `json:"eventType"`
}

// Event wraps a typed payload with provenance and metadata.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

// NewEvent builds an event for the supplied payload.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
