// Package hooks provides production-ready Hook, Logger and MetricsCollector
// implementations for the engine and pipelines.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-loader/core"
)

// ── Structured logger adapters ────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each pipeline step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, img *core.ImageData) {
	h.logger.Debug("pipeline.step.start",
		"step", stepName,
		"format", img.Format,
		"width", img.Meta.Width,
		"height", img.Meta.Height,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, img *core.ImageData, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("pipeline.step.error",
			"step", stepName,
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	out := "nil"
	if img != nil {
		out = fmt.Sprintf("%dx%d %s", img.Meta.Width, img.Meta.Height, img.Format)
	}
	h.logger.Debug("pipeline.step.done",
		"step", stepName,
		"duration_ms", d.Milliseconds(),
		"output", out,
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics in process; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stageDurationsMs map[string]int64 // cumulative ms per stage
	stageCalls       map[string]int64
	stageErrors      map[string]int64
	cacheHits        map[string]int64 // per tier
	cacheMisses      map[string]int64

	totalThroughputB int64
	memoryCacheB     int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stageDurationsMs: make(map[string]int64),
		stageCalls:       make(map[string]int64),
		stageErrors:      make(map[string]int64),
		cacheHits:        make(map[string]int64),
		cacheMisses:      make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stage string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.stageDurationsMs[stage] += ms
	m.stageCalls[stage]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

// RecordMemory keeps the latest reported memory cache size.
func (m *InMemoryMetrics) RecordMemory(bytes int64) {
	atomic.StoreInt64(&m.memoryCacheB, bytes)
}

func (m *InMemoryMetrics) RecordError(stage string, _ string) {
	m.mu.Lock()
	m.stageErrors[stage]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordCacheLookup(tier string, hit bool) {
	m.mu.Lock()
	if hit {
		m.cacheHits[tier]++
	} else {
		m.cacheMisses[tier]++
	}
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		StageDurationsMs: copyCounts(m.stageDurationsMs),
		StageCalls:       copyCounts(m.stageCalls),
		StageErrors:      copyCounts(m.stageErrors),
		CacheHits:        copyCounts(m.cacheHits),
		CacheMisses:      copyCounts(m.cacheMisses),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
		MemoryCacheB:     atomic.LoadInt64(&m.memoryCacheB),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StageDurationsMs map[string]int64
	StageCalls       map[string]int64
	StageErrors      map[string]int64
	CacheHits        map[string]int64
	CacheMisses      map[string]int64
	TotalThroughputB int64
	MemoryCacheB     int64
}

// HitRatio returns hits/(hits+misses) for tier, or 0 without lookups.
func (s MetricsSnapshot) HitRatio(tier string) float64 {
	total := s.CacheHits[tier] + s.CacheMisses[tier]
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits[tier]) / float64(total)
}

// ── Fan-out ───────────────────────────────────────────────────────────────────

// Multi forwards every observation to each collector.
type Multi []core.MetricsCollector

func (m Multi) RecordProcessingTime(stage string, d interface{ Seconds() float64 }) {
	for _, c := range m {
		c.RecordProcessingTime(stage, d)
	}
}

func (m Multi) RecordThroughput(bytes int64) {
	for _, c := range m {
		c.RecordThroughput(bytes)
	}
}

func (m Multi) RecordMemory(bytes int64) {
	for _, c := range m {
		c.RecordMemory(bytes)
	}
}

func (m Multi) RecordError(stage, category string) {
	for _, c := range m {
		c.RecordError(stage, category)
	}
}

func (m Multi) RecordCacheLookup(tier string, hit bool) {
	for _, c := range m {
		c.RecordCacheLookup(tier, hit)
	}
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds pipeline step timings into a MetricsCollector under
// "step.<name>" so they do not mix with the engine's stages.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(_ context.Context, _ string, _ *core.ImageData) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, _ *core.ImageData, d time.Duration, err error) {
	stage := "step." + stepName
	h.collector.RecordProcessingTime(stage, d)
	if err != nil {
		h.collector.RecordError(stage, "pipeline")
	}
}

var (
	_ core.Logger           = (*SlogLogger)(nil)
	_ core.Logger           = NopLogger{}
	_ core.Hook             = (*LoggingHook)(nil)
	_ core.Hook             = (*MetricsHook)(nil)
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
	_ core.MetricsCollector = Multi(nil)
)
