// Package fetcher provides core.Fetcher implementations for local files,
// HTTP(S) URLs and in-memory bytes. A Fetcher serves one load: the engine
// calls LoadData at most once, Cancel from any goroutine and Cleanup last.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Options are shared by the fetchers built through ForModel.
type Options struct {
	// Client defaults to an http.Client with Timeout.
	Client  *http.Client
	Timeout time.Duration
	Header  http.Header
	// MaxBytes bounds the bytes read from the source. <= 0 disables it.
	MaxBytes int64
}

// ForModel picks a fetcher for a model string: http and https URLs go through
// HTTP, anything else is a file path.
func ForModel(model string, opts Options) core.Fetcher {
	if strings.HasPrefix(model, "http://") || strings.HasPrefix(model, "https://") {
		return NewHTTP(model, opts)
	}
	return NewFile(model, opts.MaxBytes)
}

// scope ties a fetch to a cancellable context so Cancel can interrupt a
// LoadData running on another goroutine.
type scope struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

// begin derives the fetch context. It fails when Cancel already ran.
func (s *scope) begin(ctx context.Context, op string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return nil, apperrors.New(apperrors.CategoryFetch, op, apperrors.ErrContextCanceled)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (s *scope) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *scope) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// release cancels the derived context once the fetch is over.
func (s *scope) release() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// fetchError maps a read failure, reporting an interrupted fetch as
// ErrContextCanceled.
func (s *scope) fetchError(op string, err error) error {
	if s.isCancelled() {
		return apperrors.New(apperrors.CategoryFetch, op, apperrors.ErrContextCanceled)
	}
	return apperrors.Wrap(apperrors.CategoryFetch, op, err)
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ── Bytes ─────────────────────────────────────────────────────────────────────

// Bytes serves an in-memory buffer. Useful for images already downloaded by
// the caller and in tests.
type Bytes struct {
	data []byte
	scope
}

// NewBytes returns a fetcher over data. data must not be modified afterwards.
func NewBytes(data []byte) *Bytes { return &Bytes{data: data} }

func (b *Bytes) LoadData(ctx context.Context, _ core.Priority) (io.ReadCloser, error) {
	ctx, err := b.begin(ctx, "bytes.fetch")
	if err != nil {
		return nil, err
	}
	return io.NopCloser(&ctxReader{ctx: ctx, r: bytes.NewReader(b.data)}), nil
}

func (b *Bytes) Cleanup() { b.release() }

var (
	_ core.Fetcher = (*Bytes)(nil)
	_ core.Fetcher = (*File)(nil)
	_ core.Fetcher = (*HTTP)(nil)
)
