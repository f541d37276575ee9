package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/Skryldev/image-loader/config"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// Memory is an in-process tier for encoded entries backed by bigcache. It
// survives memory cache clears but not the process.
type Memory struct {
	cache *bigcache.BigCache
}

// NewMemory creates a bigcache store capped at cfg.MaxMB.
func NewMemory(ctx context.Context, cfg config.MemoryConfig) (*Memory, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	bc := bigcache.DefaultConfig(life)
	if cfg.Shards > 0 {
		bc.Shards = cfg.Shards
	}
	bc.HardMaxCacheSize = cfg.MaxMB
	bc.MaxEntriesInWindow = 1024
	bc.MaxEntrySize = 4 << 10
	bc.Verbose = false

	cache, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "memory.open", err)
	}
	return &Memory{cache: cache}, nil
}

func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperrors.Wrap(apperrors.CategoryStorage, "memory.get", err)
	}
	raw, err := m.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CategoryStorage, "memory.get", err)
	}
	return io.NopCloser(bytes.NewReader(raw)), true, nil
}

func (m *Memory) Put(ctx context.Context, key string, write func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "memory.put", err)
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := write(buf); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "memory.put.write", err)
	}
	// Set copies the value into the shard's queue.
	if err := m.cache.Set(key, buf.Bytes()); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "memory.put", err)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "memory.delete", err)
	}
	if err := m.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return apperrors.Wrap(apperrors.CategoryStorage, "memory.delete", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int { return m.cache.Len() }

func (m *Memory) Close() error { return m.cache.Close() }

var _ Tier = (*Memory)(nil)
