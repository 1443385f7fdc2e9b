package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// SlotProbe checks whether a failed slot has recovered. A nil probe keeps
// failed slots out of rotation until MarkHealthy is called explicitly.
type SlotProbe func(ctx context.Context, slot int) error

type slotState struct {
	busy       bool
	healthy    bool
	lastError  string
	busySince  time.Time
	failedAt   time.Time
	jobRunning string
}

// WorkerPool is a fixed set of generation slots. Running jobs never exceed
// the slot count; a slot that reported a hardware failure stays out of
// rotation until a probe clears it.
type WorkerPool struct {
	mu    sync.Mutex
	slots []slotState
	probe SlotProbe

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWorkerPool(size int, probe SlotProbe) *WorkerPool {
	if size <= 0 {
		size = 2
	}
	slots := make([]slotState, size)
	for i := range slots {
		slots[i].healthy = true
	}
	return &WorkerPool{
		slots:  slots,
		probe:  probe,
		stopCh: make(chan struct{}),
	}
}

// Size returns the total slot count, healthy or not.
func (p *WorkerPool) Size() int {
	return len(p.slots)
}

// TryAcquire reserves the lowest free healthy slot. It never blocks; the
// dispatcher backs off when every slot is busy or failed.
func (p *WorkerPool) TryAcquire(jobUUID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		if p.slots[i].busy || !p.slots[i].healthy {
			continue
		}
		p.slots[i].busy = true
		p.slots[i].busySince = time.Now()
		p.slots[i].jobRunning = jobUUID
		return i, nil
	}
	return -1, ErrNoFreeSlot
}

// Release frees a slot after an attempt finished, successfully or not.
func (p *WorkerPool) Release(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.slots) {
		return
	}
	p.slots[slot].busy = false
	p.slots[slot].jobRunning = ""
}

// MarkFailed takes a slot out of rotation after a hardware/driver fault.
// The slot's current attempt is still released by the dispatcher as usual.
func (p *WorkerPool) MarkFailed(slot int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.slots) {
		return
	}
	p.slots[slot].healthy = false
	p.slots[slot].lastError = reason
	p.slots[slot].failedAt = time.Now()
	log.Warnf("[WorkerPool] slot %d marked failed: %s", slot, reason)
}

// MarkHealthy returns a slot to rotation.
func (p *WorkerPool) MarkHealthy(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.slots) {
		return
	}
	if !p.slots[slot].healthy {
		log.Infof("[WorkerPool] slot %d recovered", slot)
	}
	p.slots[slot].healthy = true
	p.slots[slot].lastError = ""
}

// PoolStats is a point-in-time snapshot for the status endpoints.
type PoolStats struct {
	Total   int `json:"total"`
	Busy    int `json:"busy"`
	Failed  int `json:"failed"`
	Idle    int `json:"idle"`
	Healthy int `json:"healthy"`
}

func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolStats{Total: len(p.slots)}
	for i := range p.slots {
		if p.slots[i].healthy {
			s.Healthy++
		} else {
			s.Failed++
			continue
		}
		if p.slots[i].busy {
			s.Busy++
		} else {
			s.Idle++
		}
	}
	return s
}

func (p *WorkerPool) failedSlots() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for i := range p.slots {
		if !p.slots[i].healthy && !p.slots[i].busy {
			out = append(out, i)
		}
	}
	return out
}

// StartHealthChecks probes failed slots on the given interval and returns
// recovered ones to rotation. No-op without a probe.
func (p *WorkerPool) StartHealthChecks(interval time.Duration) {
	if p.probe == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				for _, slot := range p.failedSlots() {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					err := p.probe(ctx, slot)
					cancel()
					if err != nil {
						log.Debugf("[WorkerPool] slot %d still failing probe: %v", slot, err)
						continue
					}
					p.MarkHealthy(slot)
				}
			}
		}
	}()
}

// StopHealthChecks stops the probe loop.
func (p *WorkerPool) StopHealthChecks() {
	close(p.stopCh)
	p.wg.Wait()
}
