package core

import (
	"context"
	"errors"
	"sync"

	"github.com/Skryldev/image-loader/config"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Engine is the entry point for loads. It deduplicates concurrent loads of
// the same key, serves memory cache hits synchronously and runs everything
// else through the disk and source executors. It is safe for concurrent use.
//
// Lock order: Engine.mu before EngineJob.mu. The reference counter and the
// memory cache only take their own leaf locks.
type Engine struct {
	cfg config.Config

	mu      sync.Mutex
	jobs    map[Key]*EngineJob
	memory  MemoryCache
	stopped bool

	refs       *ReferenceCounter
	disk       DiskCache
	diskExec   *Executor
	sourceExec *Executor
	dispatcher *Dispatcher

	logger  Logger
	metrics MetricsCollector

	once     sync.Once
	stopOnce sync.Once
}

// NewEngine creates an Engine over the given caches. disk may be nil to
// disable the disk tier. Call Start before loading; call Stop when done.
func NewEngine(cfg config.Config, memory MemoryCache, disk DiskCache) *Engine {
	e := &Engine{
		cfg:        cfg,
		jobs:       make(map[Key]*EngineJob),
		memory:     memory,
		refs:       NewReferenceCounter(),
		disk:       disk,
		diskExec:   NewExecutor("disk", cfg.DiskWorkers, cfg.QueueSize),
		sourceExec: NewExecutor("source", cfg.SourceWorkers, cfg.QueueSize),
		dispatcher: NewDispatcher(),
		logger:     nopLogger{},
	}
	memory.SetRemovalListener(e.onResourceRemoved)
	return e
}

// SetLogger attaches a structured logger.
func (e *Engine) SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	e.logger = l
}

// SetMetrics attaches a metrics collector.
func (e *Engine) SetMetrics(m MetricsCollector) { e.metrics = m }

// Start launches the executors and the delivery goroutine. It is idempotent.
func (e *Engine) Start() {
	e.once.Do(func() {
		e.dispatcher.Start()
		e.diskExec.Start()
		e.sourceExec.Start()
	})
}

// Stop rejects new loads, stops the executors, fails jobs that never
// completed with ErrEngineStopped and drains pending deliveries.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.Start()

		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()

		e.diskExec.Stop()
		e.sourceExec.Stop()

		e.mu.Lock()
		pending := make([]*EngineJob, 0, len(e.jobs))
		for _, job := range e.jobs {
			pending = append(pending, job)
		}
		e.mu.Unlock()

		stopErr := apperrors.New(apperrors.CategoryPipeline, "engine.stop", apperrors.ErrEngineStopped)
		for _, job := range pending {
			job.OnException(stopErr)
		}
		e.dispatcher.Stop()
	})
}

// Load starts or joins the load described by req. On a memory cache hit cb
// is called before Load returns and the status is nil. Otherwise cb is
// called exactly once on the delivery goroutine unless the returned status
// is cancelled first.
//
// Every resource handed to cb carries a reference owned by the caller, to be
// dropped with Release.
func (e *Engine) Load(req LoadRequest, cb ResourceCallback) (*LoadStatus, error) {
	if req.Fetcher == nil || req.Decoder == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "engine.load", errors.New("fetcher and decoder are required"))
	}
	if cb == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "engine.load", errors.New("callback is required"))
	}
	key := KeyFor(req)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.CategoryPipeline, "engine.load", apperrors.ErrEngineStopped)
	}

	if !req.SkipMemoryCache {
		res, ok := e.memory.Get(key)
		if e.metrics != nil {
			e.metrics.RecordCacheLookup("memory", ok)
		}
		if ok {
			e.refs.Acquire(res)
			e.mu.Unlock()
			req.Fetcher.Cleanup()
			e.logger.Debug("engine.memory.hit", "model", key.ModelID)
			cb.OnResourceReady(res)
			return nil, nil
		}
	}

	reg := &registration{cb: cb}
	if job, ok := e.jobs[key]; ok && job.addCallback(reg) {
		if !req.SkipMemoryCache {
			job.markCacheable()
		}
		e.mu.Unlock()
		// The running job owns its own fetcher; this one never loads.
		req.Fetcher.Cleanup()
		e.logger.Debug("engine.job.joined", "job", job.ID(), "model", key.ModelID)
		return &LoadStatus{engine: e, job: job, reg: reg}, nil
	}

	job := newEngineJob(key, e, e.dispatcher, e.refs)
	if !req.SkipMemoryCache {
		job.markCacheable()
	}
	env := &runnerEnv{disk: e.disk, source: e.sourceExec, logger: e.logger, metrics: e.metrics}
	runner := newResourceRunner(env, job, key, req)
	job.setRunner(runner)
	job.addCallback(reg)
	e.jobs[key] = job

	f, err := e.diskExec.Submit(runner.Run)
	if err != nil {
		e.logger.Warn("engine.job.rejected", "job", job.ID(), "error", err.Error())
		req.Fetcher.Cleanup()
		job.OnException(err)
	} else {
		runner.setDiskFuture(f)
	}
	e.mu.Unlock()

	e.logger.Debug("engine.job.start", "job", job.ID(), "model", key.ModelID, "width", key.Width, "height", key.Height)
	return &LoadStatus{engine: e, job: job, reg: reg}, nil
}

// Release drops one reference the caller received through a callback.
func (e *Engine) Release(res Resource) { e.refs.Release(res) }

// ClearMemory empties the memory cache, releasing its references.
func (e *Engine) ClearMemory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memory.Clear()
}

// Invalidate drops the entry req would load from the memory cache and the
// disk tier. A load already in flight for it is not affected.
func (e *Engine) Invalidate(ctx context.Context, req LoadRequest) error {
	key := KeyFor(req)

	e.mu.Lock()
	res, ok := e.memory.Remove(key)
	e.mu.Unlock()
	if ok {
		// Remove hands over the cache's reference.
		e.refs.Release(res)
	}

	if e.disk == nil {
		return nil
	}
	if err := e.disk.Delete(ctx, key.SafeKey()); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "engine.invalidate", err)
	}
	return nil
}

// ResizeMemory changes the memory cache budget when the cache supports it,
// evicting down to the new size. It reports whether the cache was resized.
func (e *Engine) ResizeMemory(maxBytes int64) bool {
	r, ok := e.memory.(interface{ Resize(int64) })
	if !ok {
		return false
	}
	// Evictions must happen under e.mu, like every other memory cache
	// mutation, so a concurrent hit never acquires a recycled resource.
	e.mu.Lock()
	r.Resize(maxBytes)
	size := e.memory.Size()
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordMemory(size)
	}
	return true
}

// InFlight returns the number of pending jobs.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

// References exposes the engine's reference counter for inspection.
func (e *Engine) References() *ReferenceCounter { return e.refs }

// onEngineJobComplete runs on the delivery goroutine.
func (e *Engine) onEngineJobComplete(job *EngineJob, res Resource) ([]*registration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs, ok := job.complete()
	if !ok {
		return nil, false
	}
	if e.jobs[job.key] == job {
		delete(e.jobs, job.key)
	}
	if res != nil && job.isCacheable() {
		e.refs.Acquire(res)
		e.memory.Put(job.key, res)
		if e.metrics != nil {
			e.metrics.RecordMemory(e.memory.Size())
		}
	}
	return regs, true
}

// removeCallback backs LoadStatus.Cancel.
func (e *Engine) removeCallback(job *EngineJob, reg *registration) {
	e.mu.Lock()
	cancelled, runner := job.removeCallback(reg)
	if cancelled {
		e.onEngineJobCancelled(job)
	}
	e.mu.Unlock()

	if cancelled {
		e.logger.Debug("engine.job.cancelled", "job", job.ID(), "model", job.key.ModelID)
		if runner != nil {
			runner.Cancel()
		}
	}
}

// onEngineJobCancelled requires e.mu.
func (e *Engine) onEngineJobCancelled(job *EngineJob) {
	if e.jobs[job.key] == job {
		delete(e.jobs, job.key)
	}
}

// onResourceRemoved is the memory cache removal listener.
func (e *Engine) onResourceRemoved(_ Key, res Resource) {
	e.refs.Release(res)
}

// LoadStatus lets one caller withdraw from a pending load.
type LoadStatus struct {
	engine *Engine
	job    *EngineJob
	reg    *registration
	once   sync.Once
}

// Cancel removes this caller's callback. When it was the last one, the load
// is cancelled and its fetch interrupted. Safe to call more than once; a nil
// status is a no-op.
func (s *LoadStatus) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.engine.removeCallback(s.job, s.reg) })
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
