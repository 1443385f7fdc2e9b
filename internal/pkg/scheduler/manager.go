package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/database"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/env"
	metrics "github.com/VictorKazakov/NeuroCanvas/internal/pkg/metrics/counter"
)

// Manager owns the scheduler plus its background maintenance: the Redis
// reconciler, the stuck-job recovery sweep, slot health checks and the
// counter flush worker.
type Manager struct {
	scheduler *Scheduler

	reconcileTicker    *time.Ticker
	stuckTicker        *time.Ticker
	counterFlushTicker *time.Ticker

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Initialize builds the global manager around the given executor and result
// store. Safe to call once at startup before GetManager.
func Initialize(executor Executor, store ResultStore) *Manager {
	managerOnce.Do(func() {
		slots := env.GetEnvInt("WORKER_SLOTS", 2)
		backlog := int64(env.GetEnvInt("MAX_BACKLOG", int(DefaultMaxBacklog)))
		timeout := time.Duration(env.GetEnvInt("JOB_TIMEOUT_SECONDS", int(DefaultJobTimeout/time.Second))) * time.Second

		pool := NewWorkerPool(slots, nil)
		sched := New(
			NewRepository(database.GetDB()),
			NewClassQueue(),
			pool,
			executor,
			store,
			WithJobTimeout(timeout),
			WithMaxBacklog(backlog),
		)
		globalManager = &Manager{
			scheduler: sched,
			stopCh:    make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global manager. Initialize must have run first.
func GetManager() *Manager {
	return globalManager
}

// GetScheduler returns the managed scheduler.
func (m *Manager) GetScheduler() *Scheduler {
	return m.scheduler
}

// Start launches the dispatchers and the maintenance workers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler Manager] starting dispatchers and background tasks")

	m.scheduler.Start()
	m.scheduler.pool.StartHealthChecks(time.Minute)

	m.reconcileTicker = time.NewTicker(time.Minute)
	m.wg.Add(1)
	go m.reconcileWorker()

	m.stuckTicker = time.NewTicker(time.Minute)
	m.wg.Add(1)
	go m.stuckWorker()

	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[Scheduler Manager] started successfully")
}

// Stop halts maintenance workers, then waits for in-flight attempts.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	log.Info("[Scheduler Manager] stopping...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.stuckTicker != nil {
		m.stuckTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.scheduler.pool.StopHealthChecks()
	m.scheduler.Stop()
	log.Info("[Scheduler Manager] stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) reconcileWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler Manager] reconcile worker stopping")
			return
		case <-m.reconcileTicker.C:
			if err := m.scheduler.ReconcileQueue(context.Background()); err != nil {
				log.Errorf("[Scheduler Manager] reconcile error: %v", err)
			}
		}
	}
}

func (m *Manager) stuckWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler Manager] stuck-job worker stopping")
			return
		case <-m.stuckTicker.C:
			if err := m.scheduler.RecoverStuckJobs(context.Background()); err != nil {
				log.Errorf("[Scheduler Manager] stuck-job recovery error: %v", err)
			}
		}
	}
}

func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler Manager] counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Errorf("[Scheduler Manager] counter flush error: %v", err)
			}
		}
	}
}
