package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/pacer/service/mbus"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New(DefaultConfig())
	defer bus.Shutdown()
	ctx := context.Background()

	var mu sync.Mutex
	var received []*mbus.Envelope
	err := bus.Subscribe(mbus.KindMemoryStats, "test", func(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
		return nil, nil
	})
	assert.NoError(t, err)

	env := mbus.NewEnvelope(mbus.KindMemoryStats, "test", "coordinator", mbus.PriorityNormal, mbus.MemoryStatsRequest{})
	assert.NoError(t, bus.Publish(ctx, env))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if assert.Len(t, received, 1) {
		assert.Equal(t, env.ID, received[0].ID)
	}
}

func TestBusRequestResponse(t *testing.T) {
	bus := New(DefaultConfig())
	defer bus.Shutdown()
	ctx := context.Background()

	err := bus.Subscribe(mbus.KindMemoryPressure, "coordinator", func(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
		return mbus.MemoryPressure{Overall: mbus.TierHigh}, nil
	})
	assert.NoError(t, err)

	env := mbus.NewEnvelope(mbus.KindMemoryPressure, "scheduler", "coordinator", mbus.PriorityHigh, mbus.MemoryPressureRequest{})
	reply, err := bus.Request(ctx, env, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, env.CorrelationID, reply.CorrelationID)
	pressure, ok := reply.Payload.(mbus.MemoryPressure)
	if assert.True(t, ok) {
		assert.Equal(t, mbus.TierHigh, pressure.Overall)
	}
}

func TestBusRequestTimeout(t *testing.T) {
	bus := New(DefaultConfig())
	defer bus.Shutdown()
	ctx := context.Background()

	// Nobody answers memory_pressure on this bus.
	env := mbus.NewEnvelope(mbus.KindMemoryPressure, "scheduler", "coordinator", mbus.PriorityHigh, mbus.MemoryPressureRequest{})
	reply, err := bus.Request(ctx, env, 30*time.Millisecond)
	assert.Nil(t, reply)
	assert.ErrorIs(t, err, mbus.ErrTimeout)
	// The abandoned correlation is cleaned up.
	assert.Zero(t, bus.Pending())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New(DefaultConfig())
	defer bus.Shutdown()
	ctx := context.Background()

	err := bus.Subscribe(mbus.KindHealthCheck, "coordinator", func(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
		return mbus.HealthStatus{Healthy: true}, nil
	})
	assert.NoError(t, err)
	// Duplicate registration is rejected.
	assert.Error(t, bus.Subscribe(mbus.KindHealthCheck, "coordinator", func(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
		return nil, nil
	}))

	bus.Unsubscribe(mbus.KindHealthCheck, "coordinator")
	env := mbus.NewEnvelope(mbus.KindHealthCheck, "test", "coordinator", mbus.PriorityNormal, mbus.HealthCheckRequest{})
	_, err = bus.Request(ctx, env, 30*time.Millisecond)
	assert.ErrorIs(t, err, mbus.ErrTimeout)
}

func TestBusShutdown(t *testing.T) {
	bus := New(DefaultConfig())
	bus.Shutdown()
	bus.Shutdown() // idempotent

	env := mbus.NewEnvelope(mbus.KindMemoryStats, "test", "coordinator", mbus.PriorityNormal, mbus.MemoryStatsRequest{})
	assert.ErrorIs(t, bus.Publish(context.Background(), env), mbus.ErrClosed)
}

func TestNextPrefersHigherPriority(t *testing.T) {
	// Built by hand so no dispatcher races the assertions.
	b := &Bus{
		config:     Config{QueueBuffer: 10},
		handlers:   make(map[handlerKey]mbus.Handler),
		pending:    make(map[string]chan *mbus.Envelope),
		shutdownCh: make(chan struct{}),
	}
	for i := range b.queues {
		b.queues[i] = make(chan *mbus.Envelope, 10)
	}

	low := mbus.NewEnvelope(mbus.KindTaskStats, "test", "", mbus.PriorityLow, mbus.TaskStatsRequest{})
	critical := mbus.NewEnvelope(mbus.KindTaskStats, "test", "", mbus.PriorityCritical, mbus.TaskStatsRequest{})
	b.queues[mbus.PriorityLow] <- low
	b.queues[mbus.PriorityCritical] <- critical
	assert.Equal(t, 2, b.Depth())

	first, ok := b.next()
	assert.True(t, ok)
	assert.Equal(t, critical.ID, first.ID)
	second, ok := b.next()
	assert.True(t, ok)
	assert.Equal(t, low.ID, second.ID)
}
