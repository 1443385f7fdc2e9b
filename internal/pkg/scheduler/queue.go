package scheduler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/cache"
)

const (
	// Redis key layout. One pending list per priority class plus a shared
	// processing list for crash recovery.
	queueKeyPrefix     = "gen_queue:"
	queueProcessingKey = "gen_processing"
	queueStatsKey      = "gen_stats"
)

// ClassQueue holds admitted job UUIDs in per-class Redis lists. Claims pop
// the highest class first; within a class order is FIFO. The database row
// stays the source of truth, the lists only order dispatch.
type ClassQueue struct {
	client  *redis.Client
	classes []int
}

// NewClassQueue builds a queue over every known priority class, highest
// first.
func NewClassQueue() *ClassQueue {
	return &ClassQueue{
		client: cache.GetClient(),
		classes: []int{
			models.PriorityClassPro,
			models.PriorityClassPlus,
			models.PriorityClassStandard,
		},
	}
}

func classKey(class int) string {
	return queueKeyPrefix + strconv.Itoa(class)
}

// Enqueue appends a job to the tail of its class list.
func (q *ClassQueue) Enqueue(ctx context.Context, jobUUID string, class int) error {
	if err := q.client.LPush(ctx, classKey(class), jobUUID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobUUID, err)
	}
	return nil
}

// Claim pops the next job honoring class priority and moves it onto the
// processing list in one Redis operation. Returns redis.Nil when every
// class list is empty.
func (q *ClassQueue) Claim(ctx context.Context) (string, error) {
	for _, class := range q.classes {
		jobUUID, err := q.client.LMove(ctx, classKey(class), queueProcessingKey, "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", err
		}
		return jobUUID, nil
	}
	return "", redis.Nil
}

// Ack removes a claimed job from the processing list once its DB state is
// settled for this attempt.
func (q *ClassQueue) Ack(ctx context.Context, jobUUID string) {
	if err := q.client.LRem(ctx, queueProcessingKey, 1, jobUUID).Err(); err != nil {
		log.Errorf("[Scheduler] failed to ack job %s: %v", jobUUID, err)
	}
}

// Remove deletes a job from its class list, used by cancellation. Returns
// whether an entry was actually removed; losing the race to a dispatcher
// claim is fine, the DB CAS already decided the outcome.
func (q *ClassQueue) Remove(ctx context.Context, jobUUID string, class int) bool {
	n, err := q.client.LRem(ctx, classKey(class), 1, jobUUID).Result()
	if err != nil {
		log.Errorf("[Scheduler] failed to remove job %s from class %d: %v", jobUUID, class, err)
		return false
	}
	return n > 0
}

// Depth returns the total number of pending jobs across all classes.
func (q *ClassQueue) Depth(ctx context.Context) (int64, error) {
	var total int64
	for _, class := range q.classes {
		n, err := q.client.LLen(ctx, classKey(class)).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Contains reports whether a job UUID sits in its class list. Linear scan;
// only the reconciler uses it and backlogs are bounded.
func (q *ClassQueue) Contains(ctx context.Context, jobUUID string, class int) (bool, error) {
	ids, err := q.client.LRange(ctx, classKey(class), 0, -1).Result()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == jobUUID {
			return true, nil
		}
	}
	return false, nil
}

// ProcessingSize returns how many claims are in flight.
func (q *ClassQueue) ProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueProcessingKey).Result()
}

// IncrStat bumps a named counter in the stats hash.
func (q *ClassQueue) IncrStat(ctx context.Context, name string) {
	if err := q.client.HIncrBy(ctx, queueStatsKey, name, 1).Err(); err != nil {
		log.Errorf("[Scheduler] failed to update stat %s: %v", name, err)
	}
}

// Stats returns the counters accumulated in the stats hash.
func (q *ClassQueue) Stats(ctx context.Context) (map[string]int64, error) {
	raw, err := q.client.HGetAll(ctx, queueStatsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for name, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[name] = n
		}
	}
	return out, nil
}
