package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmind/localmind/internal/memory"
	apperrors "github.com/localmind/localmind/pkg/errors"
	"github.com/localmind/localmind/pkg/tracing"
)

type stubGate struct {
	mode memory.Mode
}

func (g *stubGate) Mode() memory.Mode             { return g.mode }
func (g *stubGate) AllowsMode(r memory.Mode) bool { return g.mode.Allows(r) }

type fakeHandle struct {
	id     int
	closed atomic.Bool
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func TestLoader_AcquireLoadsOnce(t *testing.T) {
	var constructions atomic.Int32
	factory := func(ctx context.Context) (Handle, error) {
		constructions.Add(1)
		return &fakeHandle{id: 1}, nil
	}
	loader := NewLoader(factory, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	assert.False(t, loader.IsLoaded())

	first, err := loader.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, loader.IsLoaded())

	second, err := loader.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), constructions.Load())
}

func TestLoader_ConcurrentAcquireSingleFlight(t *testing.T) {
	var constructions atomic.Int32
	factory := func(ctx context.Context) (Handle, error) {
		constructions.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &fakeHandle{id: int(constructions.Load())}, nil
	}
	loader := NewLoader(factory, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	const callers = 16
	handles := make([]Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := loader.Acquire(context.Background())
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), constructions.Load(), "factory must run exactly once")
	for i := 1; i < callers; i++ {
		assert.Same(t, handles[0], handles[i], "all callers share one handle")
	}
}

func TestLoader_ModeGateBlocksConstruction(t *testing.T) {
	gate := &stubGate{mode: memory.ModeMinimal}
	var constructions atomic.Int32
	factory := func(ctx context.Context) (Handle, error) {
		constructions.Add(1)
		return &fakeHandle{}, nil
	}
	loader := NewLoader(factory, memory.ModeLite, gate, nil)

	_, err := loader.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExhausted))
	assert.Equal(t, int32(0), constructions.Load(), "factory must not run under pressure")

	// Recovery lets the load through
	gate.mode = memory.ModeLite
	_, err = loader.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), constructions.Load())
}

func TestLoader_AlreadyLoadedIgnoresModeGate(t *testing.T) {
	gate := &stubGate{mode: memory.ModeFull}
	loader := NewLoader(func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	}, memory.ModeFull, gate, nil)

	first, err := loader.Acquire(context.Background())
	require.NoError(t, err)

	// Degradation after a successful load does not evict the handle
	gate.mode = memory.ModeMinimal
	second, err := loader.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoader_ConstructionFailurePropagatesAndResets(t *testing.T) {
	var constructions atomic.Int32
	factory := func(ctx context.Context) (Handle, error) {
		if constructions.Add(1) == 1 {
			return nil, errors.New("model file corrupt")
		}
		return &fakeHandle{}, nil
	}
	loader := NewLoader(factory, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	_, err := loader.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConstruction))
	assert.False(t, loader.IsLoaded())

	// The loader reset, the next acquire retries construction
	_, err = loader.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, loader.IsLoaded())
	assert.Equal(t, int32(2), constructions.Load())
}

func TestLoader_FailurePropagatesToWaiters(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	factory := func(ctx context.Context) (Handle, error) {
		close(started)
		<-release
		return nil, errors.New("out of memory")
	}
	loader := NewLoader(factory, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	leaderErr := make(chan error, 1)
	go func() {
		_, err := loader.Acquire(context.Background())
		leaderErr <- err
	}()
	<-started

	const waiters = 4
	waiterErrs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := loader.Acquire(context.Background())
			waiterErrs <- err
		}()
	}
	// Give the waiters time to join the in-flight attempt
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.Error(t, <-leaderErr)
	for i := 0; i < waiters; i++ {
		err := <-waiterErrs
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConstruction))
	}
}

func TestLoader_WaiterHonorsContextTimeout(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	factory := func(ctx context.Context) (Handle, error) {
		close(started)
		<-release
		return &fakeHandle{}, nil
	}
	loader := NewLoader(factory, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	go loader.Acquire(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := loader.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned construction still completes and is published
	close(release)
	require.Eventually(t, loader.IsLoaded, time.Second, 5*time.Millisecond)
}

func TestLoader_UnloadIsIdempotent(t *testing.T) {
	handle := &fakeHandle{}
	var constructions atomic.Int32
	loader := NewLoader(func(ctx context.Context) (Handle, error) {
		constructions.Add(1)
		return handle, nil
	}, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	require.NoError(t, loader.Unload(), "unload before any load is a no-op")

	_, err := loader.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, loader.Unload())
	assert.True(t, handle.closed.Load())
	assert.False(t, loader.IsLoaded())

	require.NoError(t, loader.Unload(), "second unload is a no-op")

	// A fresh acquire reconstructs
	_, err = loader.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), constructions.Load())
}

type slowCloseHandle struct {
	release chan struct{}
	closed  atomic.Bool
}

func (h *slowCloseHandle) Close() error {
	<-h.release
	h.closed.Store(true)
	return nil
}

func TestLoader_AutoUnloadReleasesOnMinimal(t *testing.T) {
	handle := &fakeHandle{}
	loader := NewLoader(func(ctx context.Context) (Handle, error) {
		return handle, nil
	}, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	_, err := loader.Acquire(context.Background())
	require.NoError(t, err)

	observer := loader.AutoUnload()

	// A step down that stays above MINIMAL keeps the handle
	observer(memory.ModeFull, memory.ModeLite)
	assert.True(t, loader.IsLoaded())

	observer(memory.ModeLite, memory.ModeMinimal)
	require.Eventually(t, func() bool {
		return !loader.IsLoaded() && handle.closed.Load()
	}, time.Second, time.Millisecond)
}

func TestLoader_AutoUnloadDoesNotBlockObserver(t *testing.T) {
	handle := &slowCloseHandle{release: make(chan struct{})}
	loader := NewLoader(func(ctx context.Context) (Handle, error) {
		return handle, nil
	}, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)

	_, err := loader.Acquire(context.Background())
	require.NoError(t, err)

	observer := loader.AutoUnload()
	done := make(chan struct{})
	go func() {
		observer(memory.ModeFull, memory.ModeMinimal)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer stalled behind the handle close")
	}

	close(handle.release)
	require.Eventually(t, func() bool {
		return handle.closed.Load()
	}, time.Second, time.Millisecond)
}

func TestLoader_AcquireTraced(t *testing.T) {
	tracer, err := tracing.NewTracingService(&tracing.Config{Enabled: false})
	require.NoError(t, err)

	loader := NewLoader(func(ctx context.Context) (Handle, error) {
		return &fakeHandle{id: 1}, nil
	}, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)
	loader.SetTracing(tracer)

	handle, err := loader.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, handle)

	// A traced failure still delivers the typed construction error
	boom := errors.New("weights corrupt")
	failing := NewLoader(func(ctx context.Context) (Handle, error) {
		return nil, boom
	}, memory.ModeLite, &stubGate{mode: memory.ModeFull}, nil)
	failing.SetTracing(tracer)

	_, err = failing.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConstruction))
}
