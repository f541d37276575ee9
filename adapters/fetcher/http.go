package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTP downloads a URL. Cancel aborts the request in flight.
type HTTP struct {
	url      string
	client   *http.Client
	header   http.Header
	maxBytes int64
	scope

	bodyMu sync.Mutex
	body   io.ReadCloser
}

// NewHTTP returns a fetcher for url.
func NewHTTP(url string, opts Options) *HTTP {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTP{url: url, client: client, header: opts.Header, maxBytes: opts.MaxBytes}
}

// LoadData returns the response body. Server errors and 429 are transient;
// other non-2xx statuses are permanent fetch failures.
func (h *HTTP) LoadData(ctx context.Context, priority core.Priority) (io.ReadCloser, error) {
	ctx, err := h.begin(ctx, "http.fetch")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "http.request", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "image/webp,image/png,image/jpeg,*/*;q=0.8")
	if priority >= core.PriorityHigh {
		req.Header.Set("Priority", "u=1")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if h.isCancelled() {
			return nil, apperrors.New(apperrors.CategoryFetch, "http.fetch", apperrors.ErrContextCanceled)
		}
		return nil, apperrors.Transient("http.fetch", err)
	}
	if err := checkResponse(resp, h.maxBytes); err != nil {
		resp.Body.Close()
		return nil, err
	}

	h.bodyMu.Lock()
	h.body = resp.Body
	h.bodyMu.Unlock()

	return utils.ReadCloser{
		Reader: &fetchReader{s: &h.scope, r: &utils.LimitedReader{R: resp.Body, Max: h.maxBytes}},
		Closer: closerFunc(h.closeBody),
	}, nil
}

func checkResponse(resp *http.Response, maxBytes int64) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.Transient("http.fetch", fmt.Errorf("unexpected status %s", resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return apperrors.New(apperrors.CategoryFetch, "http.fetch", fmt.Errorf("unexpected status %s", resp.Status))
	case maxBytes > 0 && resp.ContentLength > maxBytes:
		return apperrors.New(apperrors.CategoryFetch, "http.fetch",
			fmt.Errorf("%w: content length %d", utils.ErrTooLarge, resp.ContentLength))
	}
	return nil
}

func (h *HTTP) Cleanup() {
	h.closeBody()
	h.release()
}

func (h *HTTP) closeBody() error {
	h.bodyMu.Lock()
	body := h.body
	h.body = nil
	h.bodyMu.Unlock()
	if body == nil {
		return nil
	}
	return body.Close()
}

// fetchReader reports reads interrupted by Cancel as ErrContextCanceled.
type fetchReader struct {
	s *scope
	r io.Reader
}

func (f *fetchReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err != nil && err != io.EOF {
		return n, f.s.fetchError("http.read", err)
	}
	return n, err
}
