package event

import (
	"context"
	"time"
)

// Publisher fans typed events into a buffered in-process queue. Publishing
// never blocks the emitter: when the queue is full the oldest pending event
// is dropped in favour of the new one.
type Publisher[T any] struct {
	queue chan *Event[T]
}

// NewPublisher creates a publisher with the supplied buffer size.
func NewPublisher[T any](buffer int) *Publisher[T] {
	if buffer <= 0 {
		buffer = 100
	}
	return &Publisher[T]{queue: make(chan *Event[T], buffer)}
}

// Publish enqueues the event, evicting the oldest pending one on overflow.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = time.Now()
	for {
		select {
		case p.queue <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			select {
			case <-p.queue:
			default:
			}
		}
	}
}

// Consume retrieves a single event, blocking until one is available or the
// context is cancelled.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	select {
	case event := <-p.queue:
		return event, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of pending events.
func (p *Publisher[T]) Size() int {
	return len(p.queue)
}
