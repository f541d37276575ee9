package cache_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/cache"
	"github.com/Skryldev/image-loader/core"
)

type sizedResource struct {
	size     int
	recycled atomic.Int32
}

func (r *sizedResource) Value() any { return r }
func (r *sizedResource) Size() int  { return r.size }
func (r *sizedResource) Recycle()   { r.recycled.Add(1) }

func key(id string) core.Key { return core.Key{ModelID: id, Width: 100, Height: 100} }

func newLRU(t *testing.T, max int64) (*cache.LRU, *[]core.Key) {
	t.Helper()
	c, err := cache.NewLRU(max)
	require.NoError(t, err)
	removed := &[]core.Key{}
	c.SetRemovalListener(func(k core.Key, _ core.Resource) { *removed = append(*removed, k) })
	return c, removed
}

func TestLRU_EvictsOldestOverBudget(t *testing.T) {
	c, removed := newLRU(t, 1000)

	c.Put(key("a"), &sizedResource{size: 600})
	c.Put(key("b"), &sizedResource{size: 600})

	assert.Equal(t, []core.Key{key("a")}, *removed)
	_, ok := c.Get(key("a"))
	assert.False(t, ok)
	_, ok = c.Get(key("b"))
	assert.True(t, ok)
	assert.Equal(t, int64(600), c.Size())
	assert.Equal(t, 1, c.Len())
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	c, removed := newLRU(t, 1000)

	c.Put(key("a"), &sizedResource{size: 400})
	c.Put(key("b"), &sizedResource{size: 400})
	_, ok := c.Get(key("a"))
	require.True(t, ok)
	c.Put(key("c"), &sizedResource{size: 400})

	assert.Equal(t, []core.Key{key("b")}, *removed)
	_, ok = c.Get(key("a"))
	assert.True(t, ok)
}

func TestLRU_OversizedEntryIsKept(t *testing.T) {
	c, removed := newLRU(t, 100)

	c.Put(key("small"), &sizedResource{size: 50})
	c.Put(key("huge"), &sizedResource{size: 500})

	assert.Equal(t, []core.Key{key("small")}, *removed)
	_, ok := c.Get(key("huge"))
	assert.True(t, ok)
	assert.Equal(t, int64(500), c.Size())

	c.Put(key("next"), &sizedResource{size: 10})
	assert.Equal(t, []core.Key{key("small"), key("huge")}, *removed)
}

func TestLRU_ReplaceNotifiesOldValue(t *testing.T) {
	c, removed := newLRU(t, 1000)

	c.Put(key("a"), &sizedResource{size: 100})
	c.Put(key("a"), &sizedResource{size: 300})

	assert.Equal(t, []core.Key{key("a")}, *removed)
	assert.Equal(t, int64(300), c.Size())
	assert.Equal(t, 1, c.Len())
}

func TestLRU_RemoveSkipsListener(t *testing.T) {
	c, removed := newLRU(t, 1000)
	res := &sizedResource{size: 100}
	c.Put(key("a"), res)

	got, ok := c.Remove(key("a"))
	require.True(t, ok)
	assert.Same(t, res, got)
	assert.Empty(t, *removed)
	assert.Zero(t, c.Size())

	_, ok = c.Remove(key("a"))
	assert.False(t, ok)
}

func TestLRU_ClearAndResize(t *testing.T) {
	c, removed := newLRU(t, 1000)
	c.Put(key("a"), &sizedResource{size: 300})
	c.Put(key("b"), &sizedResource{size: 300})
	c.Put(key("c"), &sizedResource{size: 300})

	c.Resize(400)
	assert.Equal(t, []core.Key{key("a"), key("b")}, *removed)
	assert.Equal(t, int64(400), c.MaxSize())

	c.Clear()
	assert.Equal(t, []core.Key{key("a"), key("b"), key("c")}, *removed)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Size())
}
