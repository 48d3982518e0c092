// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"golang.org/x/sync/errgroup"
)

// Routine is a unit of work run by a ThreadPool. The return code is
// ignored by the pool; CommandTree treats non-zero as failure.
type Routine func(arg any) uintptr

// PoolState is the lifecycle state of a ThreadPool.
type PoolState uint64

const (
	// StateStopped: no workers. Initial state.
	StateStopped PoolState = iota
	// StateRunning: workers dequeue and run items.
	StateRunning
	// StatePaused: workers are alive but block instead of dequeuing.
	StatePaused
)

func (s PoolState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// runItem is copied by value into the run queue.
type runItem struct {
	routine Routine
	arg     any
}

// epoch is one generation of workers, from a Start out of StateStopped to
// the matching Stop.
type epoch struct {
	id   uint64
	quit chan struct{} // Closed by Stop
	done chan struct{} // Closed once every worker has returned
}

// ThreadPool runs Routines on a fixed set of worker goroutines fed by a
// bounded TypedQueue.
//
// Lifecycle: Stopped --Start--> Running --Pause--> Paused --Start--> Running,
// and Stop from any state. Stop and Pause only affect items that have not
// been dequeued yet; a running routine is never interrupted.
//
// EnqueueRun may be called from any goroutine, including from inside a
// routine.
type ThreadPool struct {
	_        pad
	state    atomix.Uint64 // PoolState
	epochID  atomix.Uint64
	_        pad
	running  atomix.Int64 // Routines in flight
	executed atomix.Uint64
	_        pad
	producer atomix.Uint64 // 1 while an EnqueueRun owns the queue tail
	_        pad

	queue *TypedQueue[runItem]
	work  *semaphore // Wakes idle workers
	idle  *semaphore // Released after each routine, for Join

	mu  sync.Mutex // Guards cur across Start/Stop/Join
	cur *epoch

	workers      int
	lockOSThread bool
	logger       *slog.Logger
}

// NewThreadPool creates a stopped pool with workers goroutines and a run
// queue of queueSize items.
//
// Panics with a *ConfigError if workers or queueSize is less than 1.
func NewThreadPool(workers, queueSize int) *ThreadPool {
	return NewPool(workers).QueueSize(queueSize).Build()
}

func newThreadPool(o poolOptions) *ThreadPool {
	if o.workers < 1 {
		fatalf("NewThreadPool", "worker count must be >= 1, got %d", o.workers)
	}
	if o.queueSize < 1 {
		fatalf("NewThreadPool", "run queue size must be >= 1, got %d", o.queueSize)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ThreadPool{
		queue:        NewTypedQueueSize[runItem](o.queueSize),
		work:         newSemaphore(0, o.workers),
		idle:         newSemaphore(0, o.workers),
		workers:      o.workers,
		lockOSThread: o.lockOSThread,
		logger:       logger,
	}
}

// EnqueueRun queues routine(arg). If the pool is running, one idle worker is
// woken. Returns ErrWouldBlock if the run queue is full.
func (p *ThreadPool) EnqueueRun(routine Routine, arg any) error {
	if routine == nil {
		fatalf("ThreadPool.EnqueueRun", "nil routine")
	}
	item := runItem{routine: routine, arg: arg}

	// The run queue admits one producer at a time.
	sw := spin.Wait{}
	for !p.producer.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
	err := p.queue.Enqueue(&item)
	p.producer.StoreRelease(0)
	if err != nil {
		return err
	}

	if p.State() == StateRunning {
		p.work.Release(1)
	}
	return nil
}

// Start moves the pool to StateRunning. From StateStopped it spawns the
// workers; from StatePaused it wakes the existing ones. Returns false if the
// pool is already running.
func (p *ThreadPool) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.State() {
	case StateRunning:
		return false
	case StatePaused:
		p.state.StoreRelease(uint64(StateRunning))
		p.work.Release(p.workers)
		p.logger.Debug("thread pool resumed", slog.Int("workers", p.workers))
		return true
	}

	ep := &epoch{
		id:   p.epochID.Add(1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.cur = ep
	p.state.StoreRelease(uint64(StateRunning))

	var g errgroup.Group
	for range p.workers {
		g.Go(func() error {
			p.worker(ep)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(ep.done)
	}()

	p.logger.Debug("thread pool started",
		slog.Int("workers", p.workers),
		slog.Uint64("epoch", ep.id),
		slog.Int("queue_cap", p.queue.Cap()),
	)
	return true
}

// Pause moves a running pool to StatePaused. Workers finish their current
// routine, then block. Returns false from any other state.
func (p *ThreadPool) Pause() bool {
	if !p.state.CompareAndSwapAcqRel(uint64(StateRunning), uint64(StatePaused)) {
		return false
	}
	p.logger.Debug("thread pool paused")
	return true
}

// Stop moves the pool to StateStopped, wakes every worker and waits up to
// timeout for them to exit. Returns ErrTimeout if a worker is still inside a
// routine when the timeout elapses; Join can finish the wait later.
// Queued items that were never dequeued stay queued for the next Start.
func (p *ThreadPool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	prev := PoolState(p.state.LoadAcquire())
	p.state.StoreRelease(uint64(StateStopped))
	ep := p.cur
	if ep != nil && prev != StateStopped {
		close(ep.quit)
	}
	p.mu.Unlock()

	if ep == nil {
		return nil
	}
	if err := p.waitEpoch(ep, timeout); err != nil {
		p.logger.Warn("thread pool stop timed out",
			slog.Uint64("epoch", ep.id),
			slog.Duration("timeout", timeout),
			slog.Int64("active", p.running.Load()),
		)
		return err
	}
	p.logger.Debug("thread pool stopped", slog.Uint64("epoch", ep.id))
	return nil
}

// Join waits for the pool to go quiet.
//
// Stopped: waits up to timeout for the workers to exit.
// Paused: waits up to timeout until no routine is in flight.
// Running: returns ErrInvalidState at once.
func (p *ThreadPool) Join(timeout time.Duration) error {
	switch p.State() {
	case StateRunning:
		return ErrInvalidState
	case StateStopped:
		p.mu.Lock()
		ep := p.cur
		p.mu.Unlock()
		if ep == nil {
			return nil
		}
		return p.waitEpoch(ep, timeout)
	}

	deadline := time.Now().Add(timeout)
	for p.running.Load() > 0 {
		wait := timeout
		if timeout > 0 {
			if wait = time.Until(deadline); wait <= 0 {
				return ErrTimeout
			}
		}
		if !p.idle.Wait(wait) && p.running.Load() > 0 {
			return ErrTimeout
		}
	}
	return nil
}

func (p *ThreadPool) waitEpoch(ep *epoch, timeout time.Duration) error {
	select {
	case <-ep.done:
		return nil
	default:
	}
	switch {
	case timeout == 0:
		return ErrTimeout
	case timeout < 0:
		<-ep.done
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ep.done:
		return nil
	case <-t.C:
		return ErrTimeout
	}
}

func (p *ThreadPool) worker(ep *epoch) {
	if p.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	for {
		// Count ourselves in before reading the state, so a Join after Pause
		// cannot miss a routine that is about to start.
		p.running.Add(1)
		state := PoolState(p.state.LoadAcquire())
		// Start publishes the epoch before the state, so a worker left behind
		// by a timed out Stop sees the new epoch and never joins it.
		if state == StateStopped || p.epochID.LoadAcquire() != ep.id {
			p.leave(false)
			return
		}
		if state == StateRunning {
			if item, err := p.queue.Dequeue(); err == nil {
				p.run(item)
				continue
			}
		}
		p.leave(false)
		// Paused or nothing queued.
		p.work.WaitOrDone(ep.quit, Infinite)
	}
}

func (p *ThreadPool) run(item runItem) {
	defer p.leave(true)
	item.routine(item.arg)
}

func (p *ThreadPool) leave(ran bool) {
	if ran {
		p.executed.Add(1)
	}
	p.running.Add(-1)
	p.idle.Release(1)
}

// Drain discards every queued item that no worker has taken yet and
// returns how many were dropped.
func (p *ThreadPool) Drain() int {
	n := 0
	for {
		if _, err := p.queue.Dequeue(); err != nil {
			return n
		}
		n++
	}
}

// State returns the current lifecycle state.
func (p *ThreadPool) State() PoolState {
	return PoolState(p.state.LoadAcquire())
}

// Running reports whether the pool is in StateRunning.
func (p *ThreadPool) Running() bool { return p.State() == StateRunning }

// Paused reports whether the pool is in StatePaused.
func (p *ThreadPool) Paused() bool { return p.State() == StatePaused }

// Workers returns the number of worker goroutines.
func (p *ThreadPool) Workers() int { return p.workers }

// QueueCap returns the run queue capacity.
func (p *ThreadPool) QueueCap() int { return p.queue.Cap() }

// PoolStats is an advisory snapshot of a ThreadPool.
type PoolStats struct {
	State    PoolState
	Workers  int
	QueueCap int
	Queued   int    // Items waiting in the run queue
	Active   int64  // Routines in flight
	Executed uint64 // Routines completed since creation
}

// Stats returns a snapshot of the pool counters.
func (p *ThreadPool) Stats() PoolStats {
	return PoolStats{
		State:    p.State(),
		Workers:  p.workers,
		QueueCap: p.queue.Cap(),
		Queued:   p.queue.CurrentSize(),
		Active:   p.running.Load(),
		Executed: p.executed.Load(),
	}
}
