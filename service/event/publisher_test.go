package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testAlert struct {
	Level string
}

func TestPublisherRoundTrip(t *testing.T) {
	publisher := NewPublisher[testAlert](10)
	ctx := context.Background()

	eventCtx := &Context{Component: "coordinator", EventType: "pressure_alert"}
	assert.NoError(t, publisher.Publish(ctx, NewEvent(eventCtx, testAlert{Level: "high"})))
	assert.Equal(t, 1, publisher.Size())

	received, err := publisher.Consume(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "high", received.Data.Level)
	assert.Equal(t, "coordinator", received.Context.Component)
}

func TestPublisherEvictsOldestOnOverflow(t *testing.T) {
	publisher := NewPublisher[testAlert](1)
	ctx := context.Background()

	assert.NoError(t, publisher.Publish(ctx, NewEvent(nil, testAlert{Level: "first"})))
	assert.NoError(t, publisher.Publish(ctx, NewEvent(nil, testAlert{Level: "second"})))

	received, err := publisher.Consume(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "second", received.Data.Level)
}

func TestListenerInvokesHandler(t *testing.T) {
	publisher := NewPublisher[testAlert](10)
	var mu sync.Mutex
	var levels []string
	listener := NewListener(publisher, func(event *Event[testAlert]) {
		mu.Lock()
		levels = append(levels, event.Data.Level)
		mu.Unlock()
	})
	listener.Start()
	defer listener.Stop()

	assert.NoError(t, publisher.Publish(context.Background(), NewEvent(nil, testAlert{Level: "critical"})))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical"}, levels)
}
