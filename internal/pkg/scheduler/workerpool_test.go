package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolAcquireRelease(t *testing.T) {
	pool := NewWorkerPool(2, nil)

	s0, err := pool.TryAcquire("job-a")
	require.NoError(t, err)
	s1, err := pool.TryAcquire("job-b")
	require.NoError(t, err)
	assert.NotEqual(t, s0, s1)

	_, err = pool.TryAcquire("job-c")
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	pool.Release(s0)
	s2, err := pool.TryAcquire("job-c")
	require.NoError(t, err)
	assert.Equal(t, s0, s2)
}

func TestWorkerPoolFailedSlotStaysOut(t *testing.T) {
	pool := NewWorkerPool(1, nil)

	slot, err := pool.TryAcquire("job-a")
	require.NoError(t, err)

	pool.MarkFailed(slot, "cuda device lost")
	pool.Release(slot)

	_, err = pool.TryAcquire("job-b")
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Healthy)

	pool.MarkHealthy(slot)
	_, err = pool.TryAcquire("job-b")
	assert.NoError(t, err)
}

func TestWorkerPoolStats(t *testing.T) {
	pool := NewWorkerPool(3, nil)

	_, err := pool.TryAcquire("job-a")
	require.NoError(t, err)
	pool.MarkFailed(2, "driver fault")

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Busy)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Healthy)
}

func TestTransientErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))
	assert.NoError(t, Transient(nil))

	slotErr := &SlotError{Slot: 1, Err: base}
	assert.ErrorIs(t, slotErr, base)
	assert.False(t, IsTransient(slotErr))
	assert.True(t, IsTransient(Transient(slotErr)))
}
