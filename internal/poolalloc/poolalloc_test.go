package poolalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireFreshAllocationConsumesCapacity(t *testing.T) {
	p := New(256)

	buf, ok := p.TryAcquire(100)
	require.True(t, ok)
	assert.Len(t, buf, 100)
	assert.Equal(t, int64(128), p.UsedBytes())
}

func TestReleaseDoesNotInflateUsedBytes(t *testing.T) {
	p := New(256)

	buf, ok := p.TryAcquire(100)
	require.True(t, ok)
	require.Equal(t, int64(128), p.UsedBytes())

	p.Release(100, buf)
	assert.Equal(t, int64(128), p.UsedBytes(), "capacity stays reserved while the buffer is idle in the free list")
}

func TestAcquireReleaseChurnNeverExceedsCapacity(t *testing.T) {
	p := New(256)

	for i := 0; i < 50; i++ {
		buf, ok := p.TryAcquire(100)
		require.True(t, ok, "iteration %d: pool spuriously reports full", i)
		p.Release(100, buf)
		require.LessOrEqual(t, p.UsedBytes(), p.CapacityBytes())
	}
	assert.Equal(t, int64(128), p.UsedBytes())
}

func TestTryAcquireReusesReleasedBuffer(t *testing.T) {
	p := New(256)

	buf, ok := p.TryAcquire(100)
	require.True(t, ok)
	p.Release(100, buf)

	// A second acquire of the same size class should pop the released
	// buffer from the free list rather than growing usedBytes further.
	_, ok = p.TryAcquire(100)
	require.True(t, ok)
	assert.Equal(t, int64(128), p.UsedBytes())
}

func TestTryAcquireFallsBackWhenCapacityExhausted(t *testing.T) {
	p := New(128)

	_, ok := p.TryAcquire(100)
	require.True(t, ok)

	_, ok = p.TryAcquire(100)
	assert.False(t, ok, "second acquire should find no room left in an exhausted pool")
}

func TestZeroCapacityPoolNeverHasRoom(t *testing.T) {
	p := New(0)

	_, ok := p.TryAcquire(8)
	assert.False(t, ok)
}

func TestDevicePoolsCreatesUnconfiguredDeviceOnDemand(t *testing.T) {
	dp := NewDevicePools(map[int]int64{0: 256})

	configured := dp.Pool(0)
	assert.Equal(t, int64(256), configured.CapacityBytes())

	unconfigured := dp.Pool(7)
	assert.Equal(t, int64(0), unconfigured.CapacityBytes())
}
