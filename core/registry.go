package core

import "sync"

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe Registry. Codecs are registered while the
// loader is configured and looked up on worker goroutines.
type DefaultRegistry struct {
	mu       sync.RWMutex
	decoders map[Format]FormatDecoder
	encoders map[Format]FormatEncoder
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		decoders: make(map[Format]FormatDecoder),
		encoders: make(map[Format]FormatEncoder),
	}
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d FormatDecoder) {
	r.mu.Lock()
	r.decoders[f] = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterEncoder(f Format, e FormatEncoder) {
	r.mu.Lock()
	r.encoders[f] = e
	r.mu.Unlock()
}

func (r *DefaultRegistry) DecoderFor(f Format) (FormatDecoder, bool) {
	r.mu.RLock()
	d, ok := r.decoders[f]
	r.mu.RUnlock()
	return d, ok
}

func (r *DefaultRegistry) EncoderFor(f Format) (FormatEncoder, bool) {
	r.mu.RLock()
	e, ok := r.encoders[f]
	r.mu.RUnlock()
	return e, ok
}

var _ Registry = (*DefaultRegistry)(nil)
