package core

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type jobState int

const (
	jobPending jobState = iota
	jobComplete
	jobCancelled
)

func (s jobState) String() string {
	switch s {
	case jobPending:
		return "pending"
	case jobComplete:
		return "complete"
	case jobCancelled:
		return "cancelled"
	}
	return "unknown"
}

// registration is one caller's interest in a job. Each Load call gets its
// own, so the same callback value may be registered more than once.
type registration struct {
	cb      ResourceCallback
	removed atomic.Bool
}

// jobListener is implemented by Engine.
type jobListener interface {
	// onEngineJobComplete marks job complete and removes it from the
	// in-flight map. res is nil on failure. ok is false when the job was
	// already cancelled; regs is the set to deliver to.
	onEngineJobComplete(job *EngineJob, res Resource) (regs []*registration, ok bool)
}

// canceller is the runner-side teardown triggered by cancellation.
type canceller interface {
	Cancel()
}

// EngineJob is one in-flight load for one key. It fans the single result out
// to every registered callback on the dispatcher goroutine.
type EngineJob struct {
	id  string
	key Key

	listener   jobListener
	dispatcher *Dispatcher
	refs       *ReferenceCounter

	mu        sync.Mutex
	state     jobState
	regs      []*registration
	runner    canceller
	cacheable bool // any registration wants the result in the memory cache
}

func newEngineJob(key Key, listener jobListener, d *Dispatcher, refs *ReferenceCounter) *EngineJob {
	return &EngineJob{
		id:         uuid.NewString(),
		key:        key,
		listener:   listener,
		dispatcher: d,
		refs:       refs,
	}
}

// ID returns the job's unique id, used in logs.
func (j *EngineJob) ID() string { return j.id }

// Key returns the key this job loads.
func (j *EngineJob) Key() Key { return j.key }

func (j *EngineJob) setRunner(r canceller) {
	j.mu.Lock()
	j.runner = r
	j.mu.Unlock()
}

// markCacheable records that a registration wants the result cached. A job
// started with SkipMemoryCache still caches once a regular load joins it.
func (j *EngineJob) markCacheable() {
	j.mu.Lock()
	j.cacheable = true
	j.mu.Unlock()
}

func (j *EngineJob) isCacheable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cacheable
}

// addCallback registers reg. Only legal while pending.
func (j *EngineJob) addCallback(reg *registration) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != jobPending {
		return false
	}
	j.regs = append(j.regs, reg)
	return true
}

// removeCallback unregisters reg. When the last callback of a pending job
// goes, the job becomes cancelled and the runner to stop is returned.
func (j *EngineJob) removeCallback(reg *registration) (cancelled bool, runner canceller) {
	reg.removed.Store(true)

	j.mu.Lock()
	defer j.mu.Unlock()
	for i, r := range j.regs {
		if r == reg {
			j.regs = append(j.regs[:i], j.regs[i+1:]...)
			break
		}
	}
	if j.state == jobPending && len(j.regs) == 0 {
		j.state = jobCancelled
		return true, j.runner
	}
	return false, nil
}

// complete moves a pending job to complete and snapshots its callbacks.
// Called by the listener while it holds its own lock.
func (j *EngineJob) complete() ([]*registration, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != jobPending {
		return nil, false
	}
	j.state = jobComplete
	regs := j.regs
	j.regs = nil
	return regs, true
}

func (j *EngineJob) currentState() jobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// isCancelled reports whether every callback went away before completion.
func (j *EngineJob) isCancelled() bool { return j.currentState() == jobCancelled }

// OnResourceReady hands a successful result to the delivery goroutine.
// Called once by the runner.
func (j *EngineJob) OnResourceReady(res Resource) {
	if !j.dispatcher.Post(func() { j.handleResourceReady(res) }) {
		// Dispatcher gone: nobody can observe res.
		res.Recycle()
	}
}

// OnException hands a failure to the delivery goroutine. Called once by the runner.
func (j *EngineJob) OnException(err error) {
	j.dispatcher.Post(func() { j.handleException(err) })
}

func (j *EngineJob) handleResourceReady(res Resource) {
	// The job's own reference keeps res alive while it is handed out, even if
	// the cache evicts it mid fan-out. Releasing it recycles res when the job
	// was cancelled and nobody else took a reference.
	j.refs.Acquire(res)
	defer j.refs.Release(res)

	regs, ok := j.listener.onEngineJobComplete(j, res)
	if !ok {
		return
	}
	for _, reg := range regs {
		if reg.removed.Load() {
			continue
		}
		j.refs.Acquire(res)
		reg.cb.OnResourceReady(res)
	}
}

func (j *EngineJob) handleException(err error) {
	regs, ok := j.listener.onEngineJobComplete(j, nil)
	if !ok {
		return
	}
	for _, reg := range regs {
		if reg.removed.Load() {
			continue
		}
		reg.cb.OnException(err)
	}
}
