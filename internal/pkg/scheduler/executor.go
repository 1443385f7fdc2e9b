package scheduler

import (
	"context"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

// GeneratedImage is the raw output of one generation attempt before it is
// persisted through the result store.
type GeneratedImage struct {
	Data        []byte
	ContentType string
}

// Executor produces an image for an admitted job. Implementations run on
// one worker slot at a time; the context carries the per-attempt deadline
// and must be respected, a slow executor is treated as a transient failure.
//
// Errors wrapped with Transient (or a SlotError) are retried up to the
// job's attempt cap; anything else fails the job permanently.
type Executor interface {
	Generate(ctx context.Context, job *models.GenerationJob, slot int) (*GeneratedImage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *models.GenerationJob, slot int) (*GeneratedImage, error)

func (f ExecutorFunc) Generate(ctx context.Context, job *models.GenerationJob, slot int) (*GeneratedImage, error) {
	return f(ctx, job, slot)
}
