package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
	metrics "github.com/VictorKazakov/NeuroCanvas/internal/pkg/metrics/counter"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/tariff"
)

const (
	DefaultMaxAttempts = 3
	DefaultJobTimeout  = 5 * time.Minute
	DefaultMaxBacklog  = 500

	dispatchPollInterval = 500 * time.Millisecond
)

// ResultStore persists a finished artifact and its metadata. Implemented by
// the object-storage backed store; tests inject fakes.
type ResultStore interface {
	Save(ctx context.Context, job *models.GenerationJob, img *GeneratedImage) (*models.Artifact, error)
}

// Scheduler admits generation jobs against the credit ledger and dispatches
// them to worker slots in priority order.
type Scheduler struct {
	repo     Repository
	queue    *ClassQueue
	pool     *WorkerPool
	executor Executor
	store    ResultStore

	jobTimeout  time.Duration
	maxBacklog  int64
	dispatchers int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type Option func(*Scheduler)

func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

func WithMaxBacklog(n int64) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxBacklog = n
		}
	}
}

func WithDispatchers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.dispatchers = n
		}
	}
}

func New(repo Repository, queue *ClassQueue, pool *WorkerPool, executor Executor, store ResultStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:        repo,
		queue:       queue,
		pool:        pool,
		executor:    executor,
		store:       store,
		jobTimeout:  DefaultJobTimeout,
		maxBacklog:  DefaultMaxBacklog,
		dispatchers: pool.Size(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit admits one generation request. Backpressure is checked before any
// money moves; admission itself is a single transaction so the debit and
// the queued job commit together.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*models.GenerationJob, error) {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return nil, err
	}
	if depth >= s.maxBacklog {
		return nil, ErrBackpressure
	}

	tier := tariff.NormalizeTier(req.Tier)
	class, err := s.repo.UserPriorityClass(req.UserID)
	if err != nil {
		return nil, err
	}

	imageSize := strings.TrimSpace(req.ImageSize)
	if imageSize == "" {
		imageSize = "1024x1024"
	}

	job := &models.GenerationJob{
		JobUUID:       uuid.New().String(),
		UserID:        req.UserID,
		Prompt:        req.Prompt,
		Style:         strings.TrimSpace(req.Style),
		QualityTier:   string(tier),
		ImageSize:     imageSize,
		PriorityClass: tariff.ClampPriorityClass(class),
		CreditCost:    tariff.CreditCost(tier),
		State:         models.JobStateQueued,
		MaxAttempts:   DefaultMaxAttempts,
	}

	if err := s.repo.AdmitJob(job); err != nil {
		return nil, err
	}

	// The DB row is committed; a lost enqueue is repaired by the reconciler.
	if err := s.queue.Enqueue(ctx, job.JobUUID, job.PriorityClass); err != nil {
		log.Errorf("[Scheduler] job %s admitted but enqueue failed, reconciler will recover: %v", job.JobUUID, err)
	}
	s.queue.IncrStat(ctx, "submitted")

	log.Infof("[Scheduler] job %s admitted for user %d (tier=%s class=%s cost=%d)",
		job.JobUUID, job.UserID, job.QualityTier, tariff.ClassName(job.PriorityClass), job.CreditCost)
	return job, nil
}

// Cancel aborts a job that has not started and refunds its debit. A job
// already claimed by a dispatcher is past cancellation; running jobs are
// never interrupted.
func (s *Scheduler) Cancel(ctx context.Context, jobUUID string) (*models.GenerationJob, error) {
	job, err := s.repo.CancelQueuedJobWithRefund(jobUUID)
	if err != nil {
		return nil, err
	}

	s.queue.Remove(ctx, job.JobUUID, job.PriorityClass)
	s.queue.IncrStat(ctx, "cancelled")
	log.Infof("[Scheduler] job %s cancelled, refunded %d credits to user %d",
		job.JobUUID, job.CreditCost, job.UserID)
	return job, nil
}

// Job returns the current job row for status polling.
func (s *Scheduler) Job(jobUUID string) (*models.GenerationJob, error) {
	return s.repo.GetJobByUUID(jobUUID)
}

// Balance returns the user's spendable credits.
func (s *Scheduler) Balance(userID uint) (int, error) {
	return s.repo.Balance(userID)
}

// PoolStats exposes the worker pool snapshot for status endpoints.
func (s *Scheduler) PoolStats() PoolStats {
	return s.pool.Stats()
}

// QueueStats exposes the accumulated dispatch counters.
func (s *Scheduler) QueueStats(ctx context.Context) (map[string]int64, error) {
	return s.queue.Stats(ctx)
}

// Start launches the dispatcher loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.running = true

	log.Infof("[Scheduler] starting %d dispatchers over %d slots", s.dispatchers, s.pool.Size())
	for i := 0; i < s.dispatchers; i++ {
		s.wg.Add(1)
		go s.dispatcher(i)
	}
}

// Stop waits for in-flight attempts to finish. Running jobs complete; they
// are never interrupted by shutdown either.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("[Scheduler] all dispatchers stopped")
}

func (s *Scheduler) dispatcher(id int) {
	defer s.wg.Done()
	log.Infof("[Scheduler] dispatcher %d started", id)

	ctx := context.Background()
	for {
		select {
		case <-s.stopCh:
			log.Infof("[Scheduler] dispatcher %d stopping", id)
			return
		default:
		}

		// Hold a slot before claiming so a claimed job never waits on
		// capacity.
		slot, err := s.pool.TryAcquire("")
		if err != nil {
			time.Sleep(dispatchPollInterval)
			continue
		}

		jobUUID, err := s.queue.Claim(ctx)
		if err != nil {
			s.pool.Release(slot)
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[Scheduler] dispatcher %d claim error: %v", id, err)
			}
			time.Sleep(dispatchPollInterval)
			continue
		}

		job, err := s.repo.ClaimJob(jobUUID, slot)
		if err != nil {
			log.Errorf("[Scheduler] dispatcher %d failed to claim job %s: %v", id, jobUUID, err)
			s.queue.Ack(ctx, jobUUID)
			s.pool.Release(slot)
			continue
		}
		if job == nil {
			// Cancelled or claimed elsewhere between Redis and the DB CAS.
			s.queue.Ack(ctx, jobUUID)
			s.pool.Release(slot)
			continue
		}

		s.runAttempt(ctx, job, slot)
		s.queue.Ack(ctx, jobUUID)
		s.pool.Release(slot)
	}
}

func (s *Scheduler) runAttempt(ctx context.Context, job *models.GenerationJob, slot int) {
	log.Infof("[Scheduler] job %s attempt %d/%d on slot %d",
		job.JobUUID, job.Attempts, job.MaxAttempts, slot)

	attemptCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	img, err := s.executor.Generate(attemptCtx, job, slot)
	cancel()

	if err == nil {
		artifact, serr := s.store.Save(ctx, job, img)
		if serr != nil {
			// The image exists but could not be persisted; retry end to end.
			err = Transient(serr)
		} else {
			ok, cerr := s.repo.CompleteJob(job.ID, job.Attempts, artifact.ID)
			if cerr != nil {
				log.Errorf("[Scheduler] job %s completion write failed: %v", job.JobUUID, cerr)
				return
			}
			if !ok {
				log.Warnf("[Scheduler] job %s finished but was no longer running", job.JobUUID)
				return
			}
			s.queue.IncrStat(ctx, "succeeded")
			metrics.AddUserGeneration(job.UserID)
			log.Infof("[Scheduler] job %s succeeded, artifact %d", job.JobUUID, artifact.ID)
			return
		}
	}

	var slotErr *SlotError
	if errors.As(err, &slotErr) {
		s.pool.MarkFailed(slot, slotErr.Err.Error())
		err = Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = Transient(err)
	}

	if !IsTransient(err) {
		s.failJob(ctx, job, err.Error())
		return
	}

	if job.HasAttemptsLeft() {
		ok, rerr := s.repo.RequeueJob(job.ID)
		if rerr != nil {
			log.Errorf("[Scheduler] job %s requeue write failed: %v", job.JobUUID, rerr)
			return
		}
		if !ok {
			return
		}
		if qerr := s.queue.Enqueue(ctx, job.JobUUID, job.PriorityClass); qerr != nil {
			log.Errorf("[Scheduler] job %s requeued in DB but enqueue failed: %v", job.JobUUID, qerr)
		}
		s.queue.IncrStat(ctx, "retried")
		log.Warnf("[Scheduler] job %s attempt %d failed transiently, requeued: %v",
			job.JobUUID, job.Attempts, err)
		return
	}

	s.failJob(ctx, job, ErrAttemptsExhausted.Error()+": "+err.Error())
}

func (s *Scheduler) failJob(ctx context.Context, job *models.GenerationJob, reason string) {
	ok, err := s.repo.FailJobWithRefund(job.ID, reason)
	if err != nil {
		log.Errorf("[Scheduler] job %s failure write failed: %v", job.JobUUID, err)
		return
	}
	if !ok {
		return
	}
	s.queue.IncrStat(ctx, "failed")
	log.Errorf("[Scheduler] job %s failed permanently, refunded %d credits: %s",
		job.JobUUID, job.CreditCost, reason)
}

// ReconcileQueue pushes jobs that are dispatchable in the DB but missing
// from Redis back onto their class lists. Recovers lost enqueues after
// Redis restarts or post-commit enqueue failures.
func (s *Scheduler) ReconcileQueue(ctx context.Context) error {
	jobs, err := s.repo.QueuedJobs(int(s.maxBacklog))
	if err != nil {
		return err
	}

	grace := time.Now().Add(-time.Minute)
	for i := range jobs {
		job := &jobs[i]
		// Freshly admitted rows may still be on their way into Redis.
		if job.UpdatedAt.After(grace) {
			continue
		}
		listed, err := s.queue.Contains(ctx, job.JobUUID, job.PriorityClass)
		if err != nil {
			return err
		}
		if listed {
			continue
		}
		if err := s.queue.Enqueue(ctx, job.JobUUID, job.PriorityClass); err != nil {
			return err
		}
		log.Warnf("[Scheduler] reconciled job %s back onto class %d queue", job.JobUUID, job.PriorityClass)
	}
	return nil
}

// RecoverStuckJobs handles running jobs whose dispatcher died mid-attempt:
// they are past any plausible deadline, so the attempt counts as a transient
// failure and the job is requeued or failed with a refund.
func (s *Scheduler) RecoverStuckJobs(ctx context.Context) error {
	cutoff := time.Now().Add(-2 * s.jobTimeout)
	jobs, err := s.repo.StuckRunningJobs(cutoff)
	if err != nil {
		return err
	}

	for i := range jobs {
		job := &jobs[i]
		log.Warnf("[Scheduler] recovering stuck job %s (started %s)", job.JobUUID, job.StartedAt)
		if job.HasAttemptsLeft() {
			ok, err := s.repo.RequeueJob(job.ID)
			if err != nil {
				return err
			}
			if ok {
				if err := s.queue.Enqueue(ctx, job.JobUUID, job.PriorityClass); err != nil {
					return err
				}
				s.queue.IncrStat(ctx, "retried")
			}
			continue
		}
		s.failJob(ctx, job, ErrAttemptsExhausted.Error()+": dispatcher lost")
	}
	return nil
}
