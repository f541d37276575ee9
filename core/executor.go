package core

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// Task is a unit of work run on an Executor worker. ctx is cancelled when the
// task's Future is cancelled or the executor stops.
type Task func(ctx context.Context)

const (
	futureQueued int32 = iota
	futureRunning
	futureDone
	futureCancelled
)

// Future is the handle to a submitted Task.
type Future struct {
	ctx    context.Context
	cancel context.CancelFunc
	task   Task
	state  atomic.Int32
	done   chan struct{}
}

// Cancel cancels the task's context. A task that has not started yet is
// skipped. Reports whether the task was stopped before completing.
func (f *Future) Cancel() bool {
	f.cancel()
	if f.state.CompareAndSwap(futureQueued, futureCancelled) {
		close(f.done)
		return true
	}
	return f.state.Load() == futureRunning
}

// Done is closed once the task finished or was skipped.
func (f *Future) Done() <-chan struct{} { return f.done }

// Cancelled reports whether the task was skipped before it ran.
func (f *Future) Cancelled() bool { return f.state.Load() == futureCancelled }

// Executor is a bounded FIFO worker pool: a buffered queue drained by a fixed
// number of goroutines. Submit never blocks; a full queue is reported as
// ErrWorkerPoolFull.
type Executor struct {
	name    string
	workers int

	queue    chan *Future
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// mu orders Submit's enqueue against Stop: once stopped is set no
	// future can enter the queue, so the final drain sees every task.
	mu      sync.Mutex
	stopped bool

	baseCtx    context.Context
	cancelBase context.CancelFunc

	// Atomic counters for lightweight internal metrics.
	completedCount int64
	rejectedCount  int64
}

// NewExecutor creates an Executor. workers <= 0 resolves to runtime.NumCPU(),
// queueSize <= 0 to 256. Call Start before work can run.
func NewExecutor(name string, workers, queueSize int) *Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		name:       name,
		workers:    workers,
		queue:      make(chan *Future, queueSize),
		shutdown:   make(chan struct{}),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Start launches the workers. It is idempotent.
func (e *Executor) Start() {
	e.once.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
	})
}

// Stop cancels the context of every task, waits for the workers to exit and
// then runs whatever is still queued on the calling goroutine, so each
// submitted task observes the cancellation exactly once.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		e.cancelBase()
		close(e.shutdown)
		e.wg.Wait()
		for {
			select {
			case f := <-e.queue:
				e.run(f)
			default:
				return
			}
		}
	})
}

// Submit enqueues task.
func (e *Executor) Submit(task Task) (*Future, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, apperrors.New(apperrors.CategoryPipeline, e.name+".submit", apperrors.ErrEngineStopped)
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	f := &Future{ctx: ctx, cancel: cancel, task: task, done: make(chan struct{})}
	select {
	case e.queue <- f:
		return f, nil
	default:
		cancel()
		atomic.AddInt64(&e.rejectedCount, 1)
		return nil, apperrors.Transient(e.name+".submit", apperrors.ErrWorkerPoolFull)
	}
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.shutdown:
			return
		case f := <-e.queue:
			e.run(f)
		}
	}
}

func (e *Executor) run(f *Future) {
	if !f.state.CompareAndSwap(futureQueued, futureRunning) {
		return
	}
	defer func() {
		f.state.Store(futureDone)
		f.cancel()
		close(f.done)
		atomic.AddInt64(&e.completedCount, 1)
	}()
	f.task(f.ctx)
}

// Name returns the executor's name as used in error ops and logs.
func (e *Executor) Name() string { return e.name }

// Pending returns the number of queued tasks.
func (e *Executor) Pending() int { return len(e.queue) }

// CompletedCount returns the number of tasks that ran to completion.
func (e *Executor) CompletedCount() int64 { return atomic.LoadInt64(&e.completedCount) }

// RejectedCount returns the number of submissions refused because the queue was full.
func (e *Executor) RejectedCount() int64 { return atomic.LoadInt64(&e.rejectedCount) }
