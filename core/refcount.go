package core

import (
	"sync"

	apperrors "github.com/Skryldev/image-loader/errors"
)

type refSlot struct {
	res   Resource
	count int
}

// ReferenceCounter tracks outstanding holders per Resource and recycles a
// resource when its last holder releases it. Entries live in an arena of
// slots indexed by resource identity; a slot returns to the free list when
// its count reaches zero.
type ReferenceCounter struct {
	mu    sync.Mutex
	index map[Resource]int
	slots []refSlot
	free  []int
}

// NewReferenceCounter returns an empty counter.
func NewReferenceCounter() *ReferenceCounter {
	return &ReferenceCounter{index: make(map[Resource]int)}
}

// Acquire records one more holder of res.
func (rc *ReferenceCounter) Acquire(res Resource) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if i, ok := rc.index[res]; ok {
		rc.slots[i].count++
		return
	}
	var i int
	if n := len(rc.free); n > 0 {
		i = rc.free[n-1]
		rc.free = rc.free[:n-1]
		rc.slots[i] = refSlot{res: res, count: 1}
	} else {
		i = len(rc.slots)
		rc.slots = append(rc.slots, refSlot{res: res, count: 1})
	}
	rc.index[res] = i
}

// Release drops one holder of res and recycles it when none remain.
// Releasing a resource with no outstanding reference is a programming error
// and panics, like a negative sync.WaitGroup counter.
func (rc *ReferenceCounter) Release(res Resource) {
	rc.mu.Lock()
	i, ok := rc.index[res]
	if !ok {
		rc.mu.Unlock()
		panic(apperrors.New(apperrors.CategoryInput, "refcount.release", apperrors.ErrReleaseWithoutAcquire))
	}
	rc.slots[i].count--
	if rc.slots[i].count > 0 {
		rc.mu.Unlock()
		return
	}
	delete(rc.index, res)
	rc.slots[i] = refSlot{}
	rc.free = append(rc.free, i)
	rc.mu.Unlock()

	res.Recycle()
}

// Count returns the current number of holders of res.
func (rc *ReferenceCounter) Count(res Resource) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if i, ok := rc.index[res]; ok {
		return rc.slots[i].count
	}
	return 0
}

// Len returns the number of tracked resources.
func (rc *ReferenceCounter) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.index)
}
