package memory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/viant/pacer/service/mbus"
)

// Config for the in-memory bus implementation.
type Config struct {
	// QueueBuffer is the capacity of each per-priority delivery channel.
	QueueBuffer int
}

// DefaultConfig returns a standard configuration for the memory bus.
func DefaultConfig() Config {
	return Config{QueueBuffer: 100}
}

// Option customises a Bus.
type Option func(b *Bus)

// WithJournal records every published envelope to the supplied journal.
func WithJournal(journal mbus.Journal) Option {
	return func(b *Bus) {
		b.journal = journal
	}
}

type handlerKey struct {
	kind mbus.Kind
	id   string
}

// Bus implements mbus.Bus with per-priority buffered channels and a single
// dispatcher goroutine that drains higher priorities first.
type Bus struct {
	config  Config
	queues  [4]chan *mbus.Envelope
	journal mbus.Journal

	mu       sync.RWMutex
	handlers map[handlerKey]mbus.Handler

	pendingMu sync.Mutex
	pending   map[string]chan *mbus.Envelope

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New creates a memory bus and starts its dispatcher.
func New(config Config, options ...Option) *Bus {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	b := &Bus{
		config:     config,
		handlers:   make(map[handlerKey]mbus.Handler),
		pending:    make(map[string]chan *mbus.Envelope),
		shutdownCh: make(chan struct{}),
	}
	for i := range b.queues {
		b.queues[i] = make(chan *mbus.Envelope, config.QueueBuffer)
	}
	for _, option := range options {
		option(b)
	}
	go b.dispatch()
	return b
}

// Publish enqueues an envelope on its priority channel.
func (b *Bus) Publish(ctx context.Context, env *mbus.Envelope) error {
	if env == nil {
		return fmt.Errorf("envelope cannot be nil")
	}
	select {
	case <-b.shutdownCh:
		return mbus.ErrClosed
	default:
	}
	if b.journal != nil {
		if err := b.journal.Record(ctx, env); err != nil {
			log.Printf("failed to journal envelope %v: %v", env.ID, err)
		}
	}
	priority := env.Priority
	if priority < mbus.PriorityLow || priority > mbus.PriorityCritical {
		priority = mbus.PriorityNormal
	}
	select {
	case b.queues[priority] <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.shutdownCh:
		return mbus.ErrClosed
	}
}

// Subscribe registers a handler for the given kind under handlerID.
func (b *Bus) Subscribe(kind mbus.Kind, handlerID string, handler mbus.Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := handlerKey{kind: kind, id: handlerID}
	if _, exists := b.handlers[key]; exists {
		return fmt.Errorf("handler %v already subscribed to %v", handlerID, kind)
	}
	b.handlers[key] = handler
	return nil
}

// Unsubscribe removes a handler registration; unknown registrations are a no-op.
func (b *Bus) Unsubscribe(kind mbus.Kind, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, handlerKey{kind: kind, id: handlerID})
}

// Request publishes env and waits for the correlated response envelope.
func (b *Bus) Request(ctx context.Context, env *mbus.Envelope, timeout time.Duration) (*mbus.Envelope, error) {
	if env.CorrelationID == "" {
		return nil, fmt.Errorf("request envelope requires a correlation id")
	}
	replyCh := make(chan *mbus.Envelope, 1)
	b.pendingMu.Lock()
	b.pending[env.CorrelationID] = replyCh
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, env.CorrelationID)
		b.pendingMu.Unlock()
	}()

	if err := b.Publish(ctx, env); err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return nil, mbus.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.shutdownCh:
		return nil, mbus.ErrClosed
	}
}

// Pending returns the number of requests still awaiting a response.
func (b *Bus) Pending() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// Depth returns the number of queued envelopes across all priorities.
func (b *Bus) Depth() int {
	depth := 0
	for i := range b.queues {
		depth += len(b.queues[i])
	}
	return depth
}

// Shutdown stops the dispatcher. Idempotent.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdownCh)
	})
}

// dispatch drains the priority channels, preferring higher priorities when
// more than one has a backlog.
func (b *Bus) dispatch() {
	for {
		env, ok := b.next()
		if !ok {
			return
		}
		if env.Kind == mbus.KindResponse {
			b.routeResponse(env)
			continue
		}
		handlers := b.handlersFor(env.Kind)
		if len(handlers) == 0 {
			continue
		}
		// Handlers run off the dispatcher goroutine so that a slow handler
		// cannot stall delivery of unrelated envelopes.
		go b.deliver(env, handlers)
	}
}

// next returns the highest-priority queued envelope, blocking when all
// channels are empty.
func (b *Bus) next() (*mbus.Envelope, bool) {
	for i := len(b.queues) - 1; i >= 0; i-- {
		select {
		case env := <-b.queues[i]:
			return env, true
		default:
		}
	}
	select {
	case <-b.shutdownCh:
		return nil, false
	case env := <-b.queues[mbus.PriorityCritical]:
		return env, true
	case env := <-b.queues[mbus.PriorityHigh]:
		return env, true
	case env := <-b.queues[mbus.PriorityNormal]:
		return env, true
	case env := <-b.queues[mbus.PriorityLow]:
		return env, true
	}
}

func (b *Bus) handlersFor(kind mbus.Kind) []mbus.Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var result []mbus.Handler
	for key, handler := range b.handlers {
		if key.kind == kind {
			result = append(result, handler)
		}
	}
	return result
}

func (b *Bus) routeResponse(env *mbus.Envelope) {
	b.pendingMu.Lock()
	replyCh, ok := b.pending[env.CorrelationID]
	if ok {
		delete(b.pending, env.CorrelationID)
	}
	b.pendingMu.Unlock()
	if !ok {
		// Requester gave up already; late responses are dropped by design.
		return
	}
	replyCh <- env
}

func (b *Bus) deliver(env *mbus.Envelope, handlers []mbus.Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler panic on %v envelope %v: %v", env.Kind, env.ID, r)
		}
	}()
	ctx := context.Background()
	for _, handler := range handlers {
		payload, err := handler(ctx, env)
		if err != nil {
			log.Printf("handler error on %v envelope %v: %v", env.Kind, env.ID, err)
			continue
		}
		if payload == nil || env.CorrelationID == "" {
			continue
		}
		if err := b.Publish(ctx, env.Reply(payload)); err != nil {
			log.Printf("failed to publish response for %v: %v", env.CorrelationID, err)
		}
	}
}

// ensure Bus implements the mbus.Bus interface
var _ mbus.Bus = (*Bus)(nil)
