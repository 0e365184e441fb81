package event

import (
	"context"
	"log"
)

// Listener consumes events from a publisher and invokes a handler for each.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	cancelFn  context.CancelFunc
}

// NewListener creates a listener bound to the supplied publisher.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	return &Listener[T]{publisher: publisher, handler: handler}
}

// Start begins consuming events on a dedicated goroutine.
func (l *Listener[T]) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelFn = cancel
	go func() {
		for {
			event, err := l.publisher.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("error consuming event: %v", err)
				continue
			}
			l.invoke(event)
		}
	}()
}

// Stop cancels the consuming goroutine.
func (l *Listener[T]) Stop() {
	if l.cancelFn != nil {
		l.cancelFn()
	}
}

func (l *Listener[T]) invoke(event *Event[T]) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler panic: %v", r)
		}
	}()
	l.handler(event)
}
