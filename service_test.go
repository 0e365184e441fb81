package pacer

import (
	"context"
	"os"
	"path"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
	"github.com/viant/pacer/service/coordinator"
	"github.com/viant/pacer/service/mbus"
	"github.com/viant/pacer/service/mbus/memory"
	"github.com/viant/pacer/service/scheduler"
)

func TestEngineLifecycle(t *testing.T) {
	config := DefaultConfig()
	config.Coordinator.PressureInterval = 20 * time.Millisecond
	config.Coordinator.CleanupInterval = 50 * time.Millisecond
	config.Coordinator.MetricsInterval = time.Hour
	config.Scheduler.PressureInterval = 20 * time.Millisecond

	service, err := New(WithConfig(config))
	assert.NoError(t, err)

	runtime := service.Runtime()
	ctx := context.Background()
	assert.NoError(t, runtime.Start(ctx))
	defer runtime.Shutdown()

	var runs atomic.Int64
	_, err = runtime.Scheduler().Register("heartbeat", func() { runs.Add(1) }, 0.02)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerSeesCoordinatorPressure(t *testing.T) {
	config := DefaultConfig()
	config.Coordinator.PoolSizes = map[mbus.PoolType]int64{mbus.PoolUnified: 100}
	config.Scheduler.PressureInterval = 20 * time.Millisecond

	service, err := New(WithConfig(config))
	assert.NoError(t, err)
	runtime := service.Runtime()
	ctx := context.Background()
	assert.NoError(t, runtime.Start(ctx))
	defer runtime.Shutdown()

	// Drive the only pool to critical utilisation; the scheduler's pressure
	// refresh must pick the tier up over the bus.
	_, err = runtime.Coordinator().Allocate(ctx, coordinator.Request{
		ID: "hog", PoolType: mbus.PoolUnified, Size: 96, Priority: 5, Timeout: time.Second,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		response, err := runtime.Bus().Request(ctx,
			mbus.NewEnvelope(mbus.KindResourceInfo, "test", scheduler.Name, mbus.PriorityNormal, nil), time.Second)
		if err != nil {
			return false
		}
		info, ok := response.Payload.(mbus.ResourceInfo)
		return ok && info.CachedTier == mbus.TierCritical && info.MaxConcurrent == 5
	}, 2*time.Second, 25*time.Millisecond)
}

func TestAllocationAdmissionOverBus(t *testing.T) {
	service, err := New()
	assert.NoError(t, err)
	runtime := service.Runtime()
	ctx := context.Background()
	assert.NoError(t, runtime.Start(ctx))
	defer runtime.Shutdown()

	payload := mbus.AllocationRequest{ID: "model-weights", PoolType: mbus.PoolUnified, Size: 64, Priority: 3}
	response, err := runtime.Bus().Request(ctx,
		mbus.NewEnvelope(mbus.KindAllocationRequest, "test", scheduler.Name, mbus.PriorityHigh, payload), time.Second)
	assert.NoError(t, err)
	decision, ok := response.Payload.(mbus.AllocationDecision)
	if assert.True(t, ok) {
		assert.True(t, decision.Approved)
	}
}

func TestJournalRecordsTraffic(t *testing.T) {
	baseDir := t.TempDir()
	config := DefaultConfig()
	config.JournalURL = "file://" + baseDir

	service, err := New(WithConfig(config))
	assert.NoError(t, err)
	runtime := service.Runtime()
	ctx := context.Background()
	assert.NoError(t, runtime.Start(ctx))
	defer runtime.Shutdown()

	_, err = runtime.Bus().Request(ctx,
		mbus.NewEnvelope(mbus.KindMemoryStats, "test", coordinator.Name, mbus.PriorityNormal, nil), time.Second)
	assert.NoError(t, err)

	fs := afs.New()
	ok, err := fs.Exists(ctx, "file://"+path.Join(baseDir, string(mbus.KindMemoryStats)))
	assert.NoError(t, err)
	assert.True(t, ok, "journal should contain the request kind directory")
	entries, err := os.ReadDir(path.Join(baseDir, string(mbus.KindMemoryStats)))
	assert.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestInjectedBusStaysUsable(t *testing.T) {
	bus := memory.New(memory.DefaultConfig())
	defer bus.Shutdown()
	service, err := New(WithBus(bus))
	assert.NoError(t, err)
	runtime := service.Runtime()
	assert.Same(t, mbus.Bus(bus), runtime.Bus())

	ctx := context.Background()
	assert.NoError(t, runtime.Start(ctx))
	runtime.Shutdown()

	// A caller-owned bus is not shut down with the engine.
	err = bus.Publish(ctx, mbus.NewEnvelope(mbus.KindHealthCheck, "test", coordinator.Name, mbus.PriorityNormal, nil))
	assert.NoError(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	location := path.Join(dir, "pacer.yaml")
	content := []byte("coordinator:\n  cleanupPriorityCeiling: 3\n  poolSizes:\n    unified: 2048\njournalURL: mem://journal\n")
	assert.NoError(t, os.WriteFile(location, content, 0o644))

	config, err := LoadConfig(context.Background(), "file://"+location)
	assert.NoError(t, err)
	assert.Equal(t, 3, config.Coordinator.CleanupPriorityCeiling)
	assert.Equal(t, int64(2048), config.Coordinator.PoolSizes[mbus.PoolUnified])
	assert.Equal(t, "mem://journal", config.JournalURL)
	// Unset fields keep their defaults.
	assert.Equal(t, time.Second, config.Scheduler.ThrottleBackoff)
	assert.Equal(t, int64(64), config.Coordinator.PoolSizes[mbus.PoolSRAM])

	_, err = LoadConfig(context.Background(), "file://"+path.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
