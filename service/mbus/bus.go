package mbus

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout reports that no response arrived before the caller's deadline.
// Callers are expected to fall back to cached state rather than retry.
var ErrTimeout = errors.New("query timed out")

// ErrClosed reports that the bus has been shut down.
var ErrClosed = errors.New("bus closed")

// Handler processes an envelope of a subscribed kind. A non-nil returned
// payload is delivered back to the requester as the response leg of the
// exchange; returning (nil, nil) means the handler consumed the envelope
// without replying.
type Handler func(ctx context.Context, env *Envelope) (Payload, error)

// Bus is a typed publish/subscribe channel with priority delivery and a
// request/response convention keyed by correlation id. Implementations are
// constructed explicitly and injected into components; there is no
// process-wide instance.
type Bus interface {
	// Publish enqueues an envelope for asynchronous delivery.
	Publish(ctx context.Context, env *Envelope) error

	// Subscribe registers a handler for a query kind under a handler id.
	Subscribe(kind Kind, handlerID string, handler Handler) error

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(kind Kind, handlerID string)

	// Request publishes env and waits for the response envelope carrying
	// the same correlation id. It returns ErrTimeout when the deadline
	// elapses first; the request is not retried.
	Request(ctx context.Context, env *Envelope, timeout time.Duration) (*Envelope, error)
}

// Journal records every published envelope for audit purposes.
type Journal interface {
	Record(ctx context.Context, env *Envelope) error
}
