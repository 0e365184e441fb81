package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/pacer/internal/clock"
	"github.com/viant/pacer/service/mbus"
	"github.com/viant/pacer/service/mbus/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	bus := memory.New(memory.DefaultConfig())
	t.Cleanup(bus.Shutdown)
	config := DefaultConfig()
	config.PressureInterval = time.Hour // keep refresh out of loop tests
	service, err := New(bus, config)
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return service
}

func TestRegisterValidation(t *testing.T) {
	service := newTestService(t)

	_, err := service.Register("", func() {}, 1)
	var validation *ValidationError
	if assert.ErrorAs(t, err, &validation) {
		assert.Equal(t, "name", validation.Field)
	}

	_, err = service.Register("no-callback", nil, 1)
	if assert.ErrorAs(t, err, &validation) {
		assert.Equal(t, "callback", validation.Field)
	}

	_, err = service.Register("zero-interval", func() {}, 0)
	if assert.ErrorAs(t, err, &validation) {
		assert.Equal(t, "interval", validation.Field)
	}

	_, err = service.Register("bad-unit", func() {}, 1, WithTimeUnit("fortnight"))
	if assert.ErrorAs(t, err, &validation) {
		assert.Equal(t, "timeUnit", validation.Field)
	}

	_, err = service.Register("bad-priority", func() {}, 1, WithPriority(Priority(9)))
	if assert.ErrorAs(t, err, &validation) {
		assert.Equal(t, "priority", validation.Field)
	}
}

func TestTaskIDFormat(t *testing.T) {
	service := newTestService(t)
	first, err := service.Register("report", func() {}, 1)
	assert.NoError(t, err)
	second, err := service.Register("report", func() {}, 1)
	assert.NoError(t, err)

	assert.True(t, strings.HasPrefix(first, "report_"))
	assert.True(t, strings.HasPrefix(second, "report_"))
	// Ids stay unique even when both registrations land on the same
	// microsecond.
	assert.NotEqual(t, first, second)
}

func TestPriorityOrdering(t *testing.T) {
	service := newTestService(t)
	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	startAt := clock.Now()
	_, err := service.Register("low", record("low"), 3600, WithPriority(PriorityLow), WithStartAt(startAt))
	assert.NoError(t, err)
	_, err = service.Register("critical", record("critical"), 3600, WithPriority(PriorityCritical), WithStartAt(startAt))
	assert.NoError(t, err)
	_, err = service.Register("normal", record("normal"), 3600, WithStartAt(startAt))
	assert.NoError(t, err)

	assert.NoError(t, service.Start(context.Background()))
	defer service.Stop()
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "normal", "low"}, order)
}

func TestNoEarlyExecution(t *testing.T) {
	service := newTestService(t)
	startAt := clock.Now().Add(80 * time.Millisecond)
	var mu sync.Mutex
	var invokedAt time.Time
	_, err := service.Register("punctual", func() {
		mu.Lock()
		invokedAt = clock.Now()
		mu.Unlock()
	}, 3600, WithStartAt(startAt))
	assert.NoError(t, err)

	assert.NoError(t, service.Start(context.Background()))
	defer service.Stop()
	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if assert.False(t, invokedAt.IsZero(), "task should have run") {
		assert.False(t, invokedAt.Before(startAt), "task ran %v early", startAt.Sub(invokedAt))
	}
}

func TestDependencyGating(t *testing.T) {
	service := newTestService(t)
	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	startAt := clock.Now()
	// The dependent task outranks its dependency; without gating it would
	// run first.
	_, err := service.Register("loader", record("loader"), 3600, WithPriority(PriorityLow), WithStartAt(startAt))
	assert.NoError(t, err)
	_, err = service.Register("consumer", record("consumer"), 3600, WithPriority(PriorityCritical), WithStartAt(startAt), WithDependencies("loader"))
	assert.NoError(t, err)

	assert.NoError(t, service.Start(context.Background()))
	defer service.Stop()
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"loader", "consumer"}, order)
}

func TestUnregister(t *testing.T) {
	service := newTestService(t)
	assert.False(t, service.Unregister("unknown"))

	var runs sync.Map
	id, err := service.Register("recurring", func() {
		count, _ := runs.LoadOrStore("recurring", new(int64))
		*(count.(*int64))++
	}, 0.02, WithStartAt(clock.Now()))
	assert.NoError(t, err)

	assert.NoError(t, service.Start(context.Background()))
	defer service.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.True(t, service.Unregister(id))
	time.Sleep(50 * time.Millisecond)

	// The disabled task is physically removed at its next pop.
	_, exists := service.Task(id)
	assert.False(t, exists)
}

func TestStartStopLifecycle(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, service.Start(ctx))
	assert.ErrorIs(t, service.Start(ctx), ErrAlreadyRunning)
	assert.True(t, service.Running())

	stopped := time.Now()
	service.Stop()
	assert.Less(t, time.Since(stopped), time.Second, "stop should join promptly")
	assert.False(t, service.Running())

	// Stop on a stopped scheduler is a no-op.
	service.Stop()

	// The scheduler can be restarted.
	assert.NoError(t, service.Start(ctx))
	service.Stop()
}

func TestPressureTimeoutKeepsCachedTier(t *testing.T) {
	bus := memory.New(memory.DefaultConfig())
	defer bus.Shutdown()
	config := DefaultConfig()
	config.PressureTimeout = 20 * time.Millisecond
	service, err := New(bus, config)
	assert.NoError(t, err)

	service.updatePressure(mbus.TierHigh)

	// Nobody answers pressure queries on this bus: repeated timeouts must
	// leave the cached tier untouched.
	for i := 0; i < 2; i++ {
		service.refreshPressure(context.Background())
		tier, maxConcurrent := service.pressureView()
		assert.Equal(t, mbus.TierHigh, tier)
		assert.Equal(t, 10, maxConcurrent)
	}
}

func TestPressureRefreshUpdatesCap(t *testing.T) {
	bus := memory.New(memory.DefaultConfig())
	defer bus.Shutdown()
	err := bus.Subscribe(mbus.KindMemoryPressure, "coordinator", func(ctx context.Context, env *mbus.Envelope) (mbus.Payload, error) {
		return mbus.MemoryPressure{Overall: mbus.TierCritical}, nil
	})
	assert.NoError(t, err)

	service, err := New(bus, DefaultConfig())
	assert.NoError(t, err)
	service.refreshPressure(context.Background())

	tier, maxConcurrent := service.pressureView()
	assert.Equal(t, mbus.TierCritical, tier)
	assert.Equal(t, 5, maxConcurrent)
}

func TestCallbackPanicIsIsolated(t *testing.T) {
	service := newTestService(t)
	var mu sync.Mutex
	var order []string
	startAt := clock.Now()
	_, err := service.Register("faulty", func() { panic("boom") }, 3600, WithPriority(PriorityHigh), WithStartAt(startAt))
	assert.NoError(t, err)
	_, err = service.Register("survivor", func() {
		mu.Lock()
		order = append(order, "survivor")
		mu.Unlock()
	}, 3600, WithPriority(PriorityLow), WithStartAt(startAt))
	assert.NoError(t, err)

	assert.NoError(t, service.Start(context.Background()))
	defer service.Stop()
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"survivor"}, order, "a failing task must not halt the batch")
}
