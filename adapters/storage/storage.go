// Package storage provides the disk cache tiers consulted by the engine
// before a source fetch: a local journal-backed directory, S3, an
// in-process bigcache store and a no-op tier.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
)

// Tier is a core.DiskCache that holds resources until closed.
type Tier interface {
	core.DiskCache
	io.Closer
}

// Open builds the tier selected by cfg.Backend. DiskNone returns a nil Tier.
func Open(ctx context.Context, cfg config.DiskCacheConfig) (Tier, error) {
	switch cfg.Backend {
	case "", config.DiskNone:
		return nil, nil
	case config.DiskLocal:
		l, err := NewLocal(cfg.Local)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.DiskS3:
		s, err := NewS3FromConfig(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DiskMemory:
		m, err := NewMemory(ctx, cfg.Memory)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
}

// ── Noop ──────────────────────────────────────────────────────────────────────

// Noop never stores anything. Every Get is a miss.
type Noop struct{}

func (Noop) Get(context.Context, string) (io.ReadCloser, bool, error) { return nil, false, nil }

func (Noop) Put(context.Context, string, func(io.Writer) error) error { return nil }

func (Noop) Delete(context.Context, string) error { return nil }

func (Noop) Close() error { return nil }

// shardOf is the two-character prefix used to spread keys over directories
// and object prefixes.
func shardOf(key string) string {
	if len(key) < 2 {
		return "00"
	}
	return key[:2]
}

var _ Tier = Noop{}
