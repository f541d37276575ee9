// Package imageloader wires the engine, the memory and disk caches, the
// bundled codecs and fetchers into a ready-to-use Loader.
package imageloader

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/adapters/encoder"
	"github.com/Skryldev/image-loader/adapters/fetcher"
	"github.com/Skryldev/image-loader/adapters/storage"
	"github.com/Skryldev/image-loader/cache"
	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/hooks"
	"github.com/Skryldev/image-loader/pipeline"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Loader is the primary entry point. It is safe for concurrent use once
// started.
type Loader struct {
	cfg     config.Config
	reg     *core.DefaultRegistry
	memory  *cache.LRU
	tier    storage.Tier
	engine  *core.Engine
	decoder *decoder.Image
	encoder *encoder.Image
	logger  core.Logger
	metrics core.MetricsCollector
	fetch   fetcher.Options

	hooksMu sync.RWMutex
	hooks   []core.Hook
}

// Option customises a Loader at construction.
type Option func(*Loader)

// WithLogger routes engine logs to l.
func WithLogger(l core.Logger) Option { return func(ld *Loader) { ld.logger = l } }

// WithMetrics attaches a metrics collector to the engine.
func WithMetrics(m core.MetricsCollector) Option {
	return func(ld *Loader) { ld.metrics = m }
}

// WithDiskCache replaces the tier selected by cfg.DiskCache. The Loader
// closes it on Stop.
func WithDiskCache(t storage.Tier) Option { return func(ld *Loader) { ld.tier = t } }

// WithFetchOptions overrides the HTTP client and headers used for URLs.
func WithFetchOptions(opts fetcher.Options) Option {
	return func(ld *Loader) {
		if opts.MaxBytes == 0 {
			opts.MaxBytes = ld.fetch.MaxBytes
		}
		ld.fetch = opts
	}
}

// New validates cfg and builds a Loader with the stdlib JPEG, PNG and WebP
// codecs registered. Call Start before loading and Stop when done.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Loader, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	reg := core.NewRegistry()
	decoder.RegisterStdlib(reg)
	encoder.RegisterStdlib(reg, cfg.DefaultQuality)

	memory, err := cache.NewLRU(cfg.MemoryBudget())
	if err != nil {
		return nil, fmt.Errorf("imageloader: memory cache: %w", err)
	}

	ld := &Loader{
		cfg:     cfg,
		reg:     reg,
		memory:  memory,
		decoder: decoder.NewImage(reg, cfg.MaxImageBytes, cfg.ChunkSize),
		encoder: encoder.NewImage(reg, core.Format(cfg.DefaultFormat), cfg.DefaultQuality),
		logger:  hooks.NopLogger{},
		fetch:   fetcher.Options{Timeout: cfg.HTTPTimeout, MaxBytes: cfg.MaxImageBytes},
	}
	for _, opt := range opts {
		opt(ld)
	}
	if ld.tier == nil {
		if ld.tier, err = storage.Open(ctx, cfg.DiskCache); err != nil {
			return nil, fmt.Errorf("imageloader: disk cache: %w", err)
		}
	}

	var disk core.DiskCache
	if ld.tier != nil {
		disk = ld.tier
	}
	ld.engine = core.NewEngine(cfg, memory, disk)
	ld.engine.SetLogger(ld.logger)
	if ld.metrics != nil {
		ld.engine.SetMetrics(ld.metrics)
	}
	return ld, nil
}

// Start launches the engine's worker pools.
func (l *Loader) Start() {
	l.engine.Start()
	l.logger.Info("loader.started",
		"disk_backend", string(l.cfg.DiskCache.Backend),
		"memory_budget", l.memory.MaxSize(),
	)
}

// Stop fails pending loads, stops the engine and closes the disk tier.
func (l *Loader) Stop() {
	l.engine.Stop()
	if l.tier != nil {
		if err := l.tier.Close(); err != nil {
			l.logger.Warn("loader.disk.close_failed", "error", err.Error())
		}
	}
}

// Engine exposes the underlying engine for advanced use.
func (l *Loader) Engine() *core.Engine { return l.engine }

// Registry returns the codec registry; register replacement codecs (for
// example the libvips backend) before Start.
func (l *Loader) Registry() core.Registry { return l.reg }

// AddHook registers an observer on every pipeline built by NewPipeline after
// this call.
func (l *Loader) AddHook(h core.Hook) {
	l.hooksMu.Lock()
	l.hooks = append(l.hooks, h)
	l.hooksMu.Unlock()
}

// NewPipeline returns a Transformation running steps, with the Loader's
// hooks attached.
func (l *Loader) NewPipeline(steps ...core.Step) *pipeline.Pipeline {
	p := pipeline.New(steps...)
	l.hooksMu.RLock()
	for _, h := range l.hooks {
		p.AddHook(h)
	}
	l.hooksMu.RUnlock()
	return p
}

// Request builds a LoadRequest for model using the bundled fetchers, the
// sniffing decoder and the default disk encoder. t may be nil. The result
// can be adjusted before passing it to Load or Get.
func (l *Loader) Request(model string, width, height int, t core.Transformation) core.LoadRequest {
	return core.LoadRequest{
		ModelID:        model,
		Width:          width,
		Height:         height,
		Priority:       core.PriorityNormal,
		Fetcher:        fetcher.ForModel(model, l.fetch),
		Decoder:        l.decoder,
		Transformation: t,
		Encoder:        l.encoder,
	}
}

// Load starts or joins a load; see core.Engine.Load.
func (l *Loader) Load(req core.LoadRequest, cb core.ResourceCallback) (*core.LoadStatus, error) {
	return l.engine.Load(req, cb)
}

// Get blocks until req completes or ctx is done. The returned resource
// carries a reference the caller drops with Release.
func (l *Loader) Get(ctx context.Context, req core.LoadRequest) (core.Resource, error) {
	w := &waiter{release: l.engine.Release, done: make(chan struct{})}
	status, err := l.engine.Load(req, w)
	if err != nil {
		return nil, err
	}
	select {
	case <-w.done:
		return w.res, w.err
	case <-ctx.Done():
		status.Cancel()
		if !w.abandon() {
			return w.res, w.err
		}
		return nil, ctx.Err()
	}
}

// Release drops a reference obtained from Load or Get.
func (l *Loader) Release(res core.Resource) { l.engine.Release(res) }

// Image returns the decoded ImageData of a resource produced by the bundled
// decoders, or nil.
func Image(res core.Resource) *core.ImageData {
	if res == nil {
		return nil
	}
	img, _ := res.Value().(*core.ImageData)
	return img
}

// ClearMemory empties the memory cache.
func (l *Loader) ClearMemory() { l.engine.ClearMemory() }

// Invalidate drops whatever req would be served from, in memory and on disk.
func (l *Loader) Invalidate(ctx context.Context, req core.LoadRequest) error {
	return l.engine.Invalidate(ctx, req)
}

// SetMemoryBudget resizes the memory cache, evicting down to maxBytes.
func (l *Loader) SetMemoryBudget(maxBytes int64) bool { return l.engine.ResizeMemory(maxBytes) }

// waiter turns the callback into a blocking result. A result arriving after
// the caller gave up is released right away.
type waiter struct {
	release func(core.Resource)
	done    chan struct{}

	mu        sync.Mutex
	finished  bool
	abandoned bool
	res       core.Resource
	err       error
}

func (w *waiter) OnResourceReady(res core.Resource) {
	w.mu.Lock()
	if w.abandoned {
		w.mu.Unlock()
		w.release(res)
		return
	}
	w.res, w.finished = res, true
	w.mu.Unlock()
	close(w.done)
}

func (w *waiter) OnException(err error) {
	w.mu.Lock()
	if w.abandoned {
		w.mu.Unlock()
		return
	}
	w.err, w.finished = err, true
	w.mu.Unlock()
	close(w.done)
}

// abandon marks the waiter as given up. It reports false when the result
// already arrived; res and err are then final.
func (w *waiter) abandon() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return false
	}
	w.abandoned = true
	return true
}

// ── Step constructors ─────────────────────────────────────────────────────────

// Resize returns a step resizing to width×height; 0 keeps the aspect ratio.
func Resize(width, height int) core.Step { return &pipeline.ResizeStep{Width: width, Height: height} }

// Fit returns a step shrinking the image into the load's requested size.
func Fit() core.Step { return &pipeline.FitStep{} }

// FitWithin returns a step shrinking the image into a fixed box.
func FitWithin(maxWidth, maxHeight int) core.Step {
	return &pipeline.FitStep{MaxWidth: maxWidth, MaxHeight: maxHeight}
}

// Crop returns a step cutting out a rectangle.
func Crop(x, y, width, height int) core.Step {
	return &pipeline.CropStep{X: x, Y: y, Width: width, Height: height}
}

// Thumbnail returns a square centre-cropped thumbnail step.
func Thumbnail(size int) core.Step { return &pipeline.ThumbnailStep{Size: size} }

// StripEXIF returns a step dropping EXIF metadata.
func StripEXIF() core.Step { return &pipeline.StripEXIFStep{} }

// Grayscale returns a grayscale conversion step.
func Grayscale() core.Step { return &pipeline.GrayscaleStep{} }

// Watermark returns a step compositing mark at (x, y). label must change
// whenever mark does: it is part of the cache key.
func Watermark(mark image.Image, label string, x, y int) core.Step {
	return &pipeline.WatermarkStep{Watermark: mark, Label: label, OffsetX: x, OffsetY: y}
}
