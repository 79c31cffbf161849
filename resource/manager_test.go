package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/phaseflow/types"
)

// hugeProbe keeps the headroom clamp out of the way.
const hugeProbe = StaticProbe(1 << 20)

func TestTryAcquire_SlotExhaustion(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 2, MaxMemoryMB: 10000}, hugeProbe, nil)

	require.NoError(t, m.TryAcquire("a", 100))
	require.NoError(t, m.TryAcquire("b", 100))

	err := m.TryAcquire("c", 100)
	require.Error(t, err)
	assert.Equal(t, types.ErrResourceExhausted, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	m.Release("a")
	require.NoError(t, m.TryAcquire("c", 100))
}

func TestAcquire_BlocksUntilRelease(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 2, MaxMemoryMB: 10000}, hugeProbe, nil)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "a", 100))
	require.NoError(t, m.Acquire(ctx, "b", 100))

	admitted := make(chan error, 1)
	go func() {
		admitted <- m.Acquire(ctx, "c", 100)
	}()

	select {
	case err := <-admitted:
		t.Fatalf("third acquire must block while slots are full, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	m.Release("b")
	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestAcquire_MemoryBudgetInvariant(t *testing.T) {
	// Explicit cap 1000 MB, plenty of system memory: the cap governs.
	m := NewManager(Config{MaxConcurrent: 10, MaxMemoryMB: 1000}, hugeProbe, nil)

	require.NoError(t, m.TryAcquire("a", 600))
	err := m.TryAcquire("b", 500)
	require.Error(t, err, "600+500 exceeds the 1000 MB cap")
	assert.Equal(t, types.ErrResourceExhausted, types.GetErrorCode(err))

	require.NoError(t, m.TryAcquire("b", 400))
	assert.Equal(t, int64(1000), m.ActiveMemoryMB())
}

func TestAcquire_HeadroomClampGoverns(t *testing.T) {
	// 1000 MB available: the 80% headroom (800 MB) is tighter than the cap.
	m := NewManager(Config{MaxConcurrent: 10, MaxMemoryMB: 10000}, StaticProbe(1000), nil)

	require.NoError(t, m.TryAcquire("a", 800))
	err := m.TryAcquire("b", 1)
	require.Error(t, err)
	assert.Equal(t, types.ErrResourceExhausted, types.GetErrorCode(err))
}

func TestAcquire_WaitsForMemoryThenAdmits(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 10, MaxMemoryMB: 1000}, hugeProbe, nil)
	require.NoError(t, m.TryAcquire("a", 900))

	admitted := make(chan error, 1)
	go func() {
		admitted <- m.Acquire(context.Background(), "b", 500)
	}()

	select {
	case err := <-admitted:
		t.Fatalf("acquire must wait for memory, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	m.Release("a")
	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe the release")
	}
}

func TestAcquire_ContextCancelledWhileWaiting(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 1, MaxMemoryMB: 1000}, hugeProbe, nil)
	require.NoError(t, m.TryAcquire("a", 100))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Acquire(ctx, "b", 100)
	require.Error(t, err)
	assert.Equal(t, types.ErrResourceExhausted, types.GetErrorCode(err))

	// The aborted waiter must not leak its slot.
	m.Release("a")
	require.NoError(t, m.TryAcquire("c", 100))
}

func TestRelease_IdempotentAndRestoresState(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 3, MaxMemoryMB: 1000}, hugeProbe, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.TryAcquire("a", 200))
		require.NoError(t, m.TryAcquire("b", 300))
		m.Release("a")
		m.Release("b")
		m.Release("b") // double release is a no-op
	}

	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, int64(0), m.ActiveMemoryMB())
	// All three slots are usable again.
	require.NoError(t, m.TryAcquire("x", 1))
	require.NoError(t, m.TryAcquire("y", 1))
	require.NoError(t, m.TryAcquire("z", 1))
}

func TestOptimalWorkerCount_Clamps(t *testing.T) {
	// Tiny memory forces the by-memory bound to zero, then the ≥1 clamp.
	m := NewManager(Config{MaxConcurrent: 4, MaxMemoryMB: 10000, MaxWorkers: 16}, StaticProbe(512), nil)
	assert.Equal(t, 1, m.OptimalWorkerCount())

	// Plenty of memory: configured max bounds the count from above.
	m = NewManager(Config{MaxConcurrent: 4, MaxMemoryMB: 10000, MaxWorkers: 2}, hugeProbe, nil)
	got := m.OptimalWorkerCount()
	assert.GreaterOrEqual(t, got, 1)
	assert.LessOrEqual(t, got, 2)
}
