package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Skryldev/image-loader/config"
	apperrors "github.com/Skryldev/image-loader/errors"
)

const (
	indexFile = "journal.json"
	lockFile  = "cache.lock"
)

type localEntry struct {
	Size       int64     `json:"size"`
	AccessedAt time.Time `json:"accessed_at"`
}

type localIndex struct {
	Entries map[string]*localEntry `json:"entries"`
}

// Local keeps encoded entries in a directory, one file per key under 256
// two-character shard directories. A JSON journal records sizes and access
// times so the least recently used entries go first once MaxBytes is
// exceeded. The directory is owned by one process at a time through a lock
// file.
type Local struct {
	dir      string
	perm     os.FileMode
	maxBytes int64
	lock     *flock.Flock

	mu      sync.Mutex
	entries map[string]*localEntry
	total   int64
	closed  bool
	now     func() time.Time
}

// NewLocal opens (or creates) the cache directory cfg.Dir. It fails with
// ErrDiskCacheLocked when another process holds the directory.
func NewLocal(cfg config.LocalConfig) (*Local, error) {
	if cfg.Dir == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "local.open", errors.New("directory is required"))
	}
	perm := os.FileMode(cfg.Permissions)
	if perm == 0 {
		perm = 0o644
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.open", err)
	}
	for i := 0; i < 256; i++ {
		if err := os.MkdirAll(filepath.Join(dir, fmt.Sprintf("%02x", i)), 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.open.mkdir", err)
		}
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.open.lock", err)
	}
	if !locked {
		return nil, apperrors.New(apperrors.CategoryStorage, "local.open", apperrors.ErrDiskCacheLocked)
	}

	l := &Local{
		dir:      dir,
		perm:     perm,
		maxBytes: cfg.MaxBytes,
		lock:     lock,
		entries:  make(map[string]*localEntry),
		now:      time.Now,
	}
	if err := l.loadIndex(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	l.mu.Lock()
	l.evictLocked("")
	err = l.persistIndexLocked()
	l.mu.Unlock()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return l, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.dir, shardOf(key), key)
}

func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	if err := validKey(key); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false, apperrors.New(apperrors.CategoryStorage, "local.get", apperrors.ErrStorageUnavailable)
	}
	ent, ok := l.entries[key]
	if !ok {
		return nil, false, nil
	}
	f, err := os.Open(l.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.removeLocked(key)
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.CategoryStorage, "local.get.open", err)
	}
	// Persisted with the next mutation.
	ent.AccessedAt = l.now()
	return f, true, nil
}

// Put streams write into a temp file next to the final path and renames it
// into place, so readers never observe a partial entry.
func (l *Local) Put(ctx context.Context, key string, write func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}
	if err := validKey(key); err != nil {
		return err
	}

	final := l.path(key)
	tmp, err := os.CreateTemp(filepath.Dir(final), key+".*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.create", err)
	}
	defer os.Remove(tmp.Name())

	werr := write(tmp)
	info, serr := tmp.Stat()
	cerr := tmp.Close()
	switch {
	case werr != nil:
		return apperrors.Wrap(apperrors.CategoryEncode, "local.put.write", werr)
	case serr != nil:
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.stat", serr)
	case cerr != nil:
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.close", cerr)
	}
	if err := os.Chmod(tmp.Name(), l.perm); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.chmod", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return apperrors.New(apperrors.CategoryStorage, "local.put", apperrors.ErrStorageUnavailable)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.rename", err)
	}
	if old, ok := l.entries[key]; ok {
		l.total -= old.Size
	}
	l.entries[key] = &localEntry{Size: info.Size(), AccessedAt: l.now()}
	l.total += info.Size()
	l.evictLocked(key)
	return l.persistIndexLocked()
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	if err := validKey(key); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; !ok {
		return nil
	}
	l.removeLocked(key)
	return l.persistIndexLocked()
}

// Close writes the journal and releases the directory lock.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	perr := l.persistIndexLocked()
	if err := l.lock.Unlock(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.close", err)
	}
	return perr
}

// Size returns the bytes currently accounted in the journal.
func (l *Local) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Len returns the number of entries.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Local) loadIndex() error {
	raw, err := os.ReadFile(filepath.Join(l.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.index.read", err)
	}
	var idx localIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		// Torn journal: start empty.
		return nil
	}
	for key, ent := range idx.Entries {
		if ent == nil || validKey(key) != nil {
			continue
		}
		if _, err := os.Stat(l.path(key)); err != nil {
			continue
		}
		l.entries[key] = ent
		l.total += ent.Size
	}
	return nil
}

// evictLocked drops least recently used entries until the directory fits
// MaxBytes. keep is never evicted.
func (l *Local) evictLocked(keep string) {
	if l.maxBytes <= 0 || l.total <= l.maxBytes {
		return
	}
	keys := make([]string, 0, len(l.entries))
	for key := range l.entries {
		if key != keep {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := l.entries[keys[i]].AccessedAt, l.entries[keys[j]].AccessedAt
		if ai.Equal(aj) {
			return keys[i] < keys[j]
		}
		return ai.Before(aj)
	})
	for _, key := range keys {
		if l.total <= l.maxBytes {
			return
		}
		l.removeLocked(key)
	}
}

func (l *Local) removeLocked(key string) {
	if ent, ok := l.entries[key]; ok {
		l.total -= ent.Size
		delete(l.entries, key)
	}
	_ = os.Remove(l.path(key))
}

func (l *Local) persistIndexLocked() error {
	raw, err := json.Marshal(localIndex{Entries: l.entries})
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.index.encode", err)
	}
	path := filepath.Join(l.dir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.index.write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryStorage, "local.index.rename", err)
	}
	return nil
}

// validKey accepts lowercase hex names, which is what core.Key.SafeKey
// produces. Anything else could escape the cache directory.
func validKey(key string) error {
	if len(key) < 2 {
		return apperrors.New(apperrors.CategoryInput, "local.key", fmt.Errorf("key %q too short", key))
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return apperrors.New(apperrors.CategoryInput, "local.key", fmt.Errorf("key %q is not lowercase hex", key))
		}
	}
	return nil
}

var _ Tier = (*Local)(nil)
