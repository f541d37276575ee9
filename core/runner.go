package core

import (
	"context"
	"io"
	"sync"
	"time"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// runnerEnv is what both runners need from the engine.
type runnerEnv struct {
	disk    DiskCache
	source  *Executor
	logger  Logger
	metrics MetricsCollector
}

func (env *runnerEnv) observe(stage string, start time.Time) {
	if env.metrics != nil {
		env.metrics.RecordProcessingTime(stage, time.Since(start))
	}
}

func (env *runnerEnv) throughput(res Resource) {
	if env.metrics != nil {
		env.metrics.RecordThroughput(int64(res.Size()))
	}
}

func (env *runnerEnv) fail(stage string, err error) {
	if env.metrics != nil {
		env.metrics.RecordError(stage, string(apperrors.CategoryOf(err)))
	}
}

// ResourceRunner drives one key's load: disk cache first, then the source.
// It runs on the disk executor.
type ResourceRunner struct {
	env    *runnerEnv
	job    *EngineJob
	key    Key
	req    LoadRequest
	source *SourceResourceRunner

	mu         sync.Mutex
	cancelled  bool
	diskFuture *Future // this runner on the disk executor
	future     *Future // the source runner on the source executor
}

func newResourceRunner(env *runnerEnv, job *EngineJob, key Key, req LoadRequest) *ResourceRunner {
	r := &ResourceRunner{env: env, job: job, key: key, req: req}
	r.source = &SourceResourceRunner{env: env, job: job, key: key, req: req}
	return r
}

func (r *ResourceRunner) setDiskFuture(f *Future) {
	r.mu.Lock()
	r.diskFuture = f
	r.mu.Unlock()
}

// Run is the disk executor task.
func (r *ResourceRunner) Run(ctx context.Context) {
	if r.isCancelled() {
		r.req.Fetcher.Cleanup()
		return
	}

	if res := r.loadFromDiskCache(ctx); res != nil {
		r.req.Fetcher.Cleanup()
		r.job.OnResourceReady(res)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		r.req.Fetcher.Cleanup()
		return
	}
	f, err := r.env.source.Submit(r.source.Run)
	if err != nil {
		r.req.Fetcher.Cleanup()
		r.job.OnException(err)
		return
	}
	r.future = f
}

// loadFromDiskCache returns nil on a miss, on a read error, or when the
// cached entry does not decode; a bad entry is deleted so the source result
// replaces it.
func (r *ResourceRunner) loadFromDiskCache(ctx context.Context) Resource {
	if r.req.SkipDiskCache || r.env.disk == nil {
		return nil
	}
	safeKey := r.key.SafeKey()
	rc, ok, err := r.env.disk.Get(ctx, safeKey)
	if ctx.Err() != nil {
		if rc != nil {
			rc.Close()
		}
		return nil
	}
	if err != nil {
		r.env.logger.Warn("engine.disk.read_failed", "job", r.job.ID(), "key", safeKey, "error", err.Error())
		return nil
	}
	if r.env.metrics != nil {
		r.env.metrics.RecordCacheLookup("disk", ok)
	}
	if !ok {
		return nil
	}
	defer rc.Close()

	dec := r.req.CacheDecoder
	if dec == nil {
		dec = r.req.Decoder
	}
	start := time.Now()
	res, err := dec.Decode(ctx, rc, r.req.Width, r.req.Height)
	r.env.observe("cache_decode", start)
	if err == nil && res != nil {
		r.env.logger.Debug("engine.disk.hit", "job", r.job.ID(), "key", safeKey)
		return res
	}
	if res != nil {
		res.Recycle()
	}
	if ctx.Err() != nil {
		// Interrupted, not corrupt: keep the entry.
		return nil
	}
	if err == nil {
		err = apperrors.ErrDecodeFailed
	}
	r.env.logger.Warn("engine.disk.corrupt", "job", r.job.ID(), "key", safeKey, "error", err.Error())
	if derr := r.env.disk.Delete(ctx, safeKey); derr != nil {
		r.env.logger.Warn("engine.disk.delete_failed", "key", safeKey, "error", derr.Error())
	}
	return nil
}

// Cancel stops the load as far as it has not progressed yet.
func (r *ResourceRunner) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	df, f := r.diskFuture, r.future
	r.mu.Unlock()

	r.source.Cancel()
	if df != nil {
		df.Cancel()
		if df.Cancelled() {
			// Run never starts, so nothing else cleans up.
			r.req.Fetcher.Cleanup()
			return
		}
	}
	if f != nil {
		f.Cancel()
		if f.Cancelled() {
			// Skipped before it started: its deferred Cleanup will not run.
			r.req.Fetcher.Cleanup()
		}
	}
}

func (r *ResourceRunner) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// SourceResourceRunner fetches, decodes and transforms from the source and
// writes the result back to the disk cache. It runs on the source executor.
type SourceResourceRunner struct {
	env *runnerEnv
	job *EngineJob
	key Key
	req LoadRequest

	mu        sync.Mutex
	cancelled bool
}

// Run is the source executor task.
func (s *SourceResourceRunner) Run(ctx context.Context) {
	defer s.req.Fetcher.Cleanup()

	res, err := s.produce(ctx)
	switch {
	case err != nil:
		s.env.logger.Error("engine.job.failed", "job", s.job.ID(), "model", s.key.ModelID, "error", err.Error())
		s.job.OnException(err)
	case res != nil:
		s.job.OnResourceReady(res)
	}
}

func (s *SourceResourceRunner) produce(ctx context.Context) (Resource, error) {
	if s.isCancelled() {
		return nil, nil
	}

	start := time.Now()
	rc, err := s.req.Fetcher.LoadData(ctx, s.req.Priority)
	s.env.observe("fetch", start)
	if err != nil {
		err = apperrors.Wrap(apperrors.CategoryFetch, "source.fetch", err)
		s.env.fail("fetch", err)
		return nil, err
	}
	defer rc.Close()
	if s.isCancelled() {
		return nil, nil
	}

	start = time.Now()
	decoded, err := s.req.Decoder.Decode(ctx, rc, s.req.Width, s.req.Height)
	s.env.observe("decode", start)
	if err == nil && decoded == nil {
		err = apperrors.ErrDecodeFailed
	}
	if err != nil {
		err = apperrors.Wrap(apperrors.CategoryDecode, "source.decode", err)
		s.env.fail("decode", err)
		return nil, err
	}
	s.env.throughput(decoded)

	res := decoded
	if s.req.Transformation != nil {
		start = time.Now()
		res, err = s.req.Transformation.Transform(ctx, decoded, s.req.Width, s.req.Height)
		s.env.observe("transform", start)
		if err == nil && res == nil {
			err = apperrors.ErrDecodeFailed
		}
		if err != nil {
			decoded.Recycle()
			err = apperrors.Wrap(apperrors.CategoryTransform, "source.transform", err)
			s.env.fail("transform", err)
			return nil, err
		}
		if res != decoded {
			decoded.Recycle()
		}
	}

	s.writeToDiskCache(ctx, res)
	return res, nil
}

// writeToDiskCache stores the encoded result. Failures only cost a future
// cache hit, so they are logged and the load carries on.
func (s *SourceResourceRunner) writeToDiskCache(ctx context.Context, res Resource) {
	if s.req.SkipDiskCache || s.req.Encoder == nil || s.env.disk == nil {
		return
	}
	start := time.Now()
	err := s.env.disk.Put(ctx, s.key.SafeKey(), func(w io.Writer) error {
		return s.req.Encoder.Encode(ctx, res, w)
	})
	s.env.observe("encode", start)
	if err != nil {
		s.env.fail("encode", err)
		s.env.logger.Warn("engine.disk.write_failed", "job", s.job.ID(), "key", s.key.SafeKey(), "error", err.Error())
	}
}

// Cancel flags the runner and interrupts the fetcher.
func (s *SourceResourceRunner) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.req.Fetcher.Cancel()
}

func (s *SourceResourceRunner) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
