package scheduler

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

func TestClassQueueClaimHonorsPriority(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "std-1", models.PriorityClassStandard))
	require.NoError(t, q.Enqueue(ctx, "pro-1", models.PriorityClassPro))
	require.NoError(t, q.Enqueue(ctx, "plus-1", models.PriorityClassPlus))
	require.NoError(t, q.Enqueue(ctx, "pro-2", models.PriorityClassPro))

	var order []string
	for i := 0; i < 4; i++ {
		id, err := q.Claim(ctx)
		require.NoError(t, err)
		order = append(order, id)
	}

	// Highest class first, FIFO within a class.
	assert.Equal(t, []string{"pro-1", "pro-2", "plus-1", "std-1"}, order)

	_, err := q.Claim(ctx)
	assert.ErrorIs(t, err, redis.Nil)

	n, err := q.ProcessingSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestClassQueueAckRemovesFromProcessing(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", models.PriorityClassStandard))
	id, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	q.Ack(ctx, "job-1")
	n, err := q.ProcessingSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestClassQueueRemoveAndDepth(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", models.PriorityClassPlus))
	require.NoError(t, q.Enqueue(ctx, "job-2", models.PriorityClassPlus))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	assert.True(t, q.Remove(ctx, "job-1", models.PriorityClassPlus))
	assert.False(t, q.Remove(ctx, "job-1", models.PriorityClassPlus))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	listed, err := q.Contains(ctx, "job-2", models.PriorityClassPlus)
	require.NoError(t, err)
	assert.True(t, listed)
}

func TestClassQueueStats(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	q.IncrStat(ctx, "submitted")
	q.IncrStat(ctx, "submitted")
	q.IncrStat(ctx, "failed")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats["submitted"])
	assert.EqualValues(t, 1, stats["failed"])
}
