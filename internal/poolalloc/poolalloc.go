// Package poolalloc implements the shared host ("pinned") and per-device
// memory pools: a bounded LRU of free buffers keyed by size class,
// with fallback to a freshly allocated pageable buffer on a miss.
package poolalloc

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// sizeClass buckets a requested byte size into a power-of-two class so a
// modest number of LRU buckets covers a wide range of request sizes.
func sizeClass(n int64) int64 {
	class := int64(64)
	for class < n {
		class *= 2
	}
	return class
}

// freeList is the per-size-class stack of released buffers.
type freeList struct {
	mu  sync.Mutex
	buf [][]byte
}

func (f *freeList) pop() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) == 0 {
		return nil, false
	}
	b := f.buf[len(f.buf)-1]
	f.buf = f.buf[:len(f.buf)-1]
	return b, true
}

func (f *freeList) push(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, b)
}

// Pool is a single configured-byte-size pool (pinned host memory, or one
// GPU device's memory). It never actually allocates page-locked or device
// memory — it models the acquire-or-fallback discipline a pooled allocator needs
// so the allocator contract is exercisable without a real framework.
type Pool struct {
	capacityBytes int64

	mu        sync.Mutex
	usedBytes int64
	classes   *lru.Cache[int64, *freeList]
}

// New creates a Pool of the given configured byte budget. capacityBytes
// of 0 means the pool never has room — every acquire falls back to
// pageable memory, matching the "max_batch_size == 0" zero-config style.
func New(capacityBytes int64) *Pool {
	classes, _ := lru.New[int64, *freeList](64)
	return &Pool{capacityBytes: capacityBytes, classes: classes}
}

// TryAcquire returns a buffer of at least n bytes from the pool, or false
// if the pool has no room — callers must then fall back to pageable memory
// themselves (actual vs. preferred memory type).
func (p *Pool) TryAcquire(n int64) ([]byte, bool) {
	class := sizeClass(n)

	if fl, ok := p.classes.Get(class); ok {
		if b, ok := fl.pop(); ok {
			return b[:n], true
		}
	}

	p.mu.Lock()
	if p.usedBytes+class > p.capacityBytes {
		p.mu.Unlock()
		return nil, false
	}
	p.usedBytes += class
	p.mu.Unlock()

	return make([]byte, n, class), true
}

// Release returns a buffer to its size class's free list. The capacity it
// occupies stays reserved (usedBytes unchanged) while the buffer sits idle
// in the free list; only a fresh allocation in TryAcquire adds to
// usedBytes, and reusing a free-list buffer leaves it unchanged, so an
// acquire/release cycle neither ratchets it up nor drives it down.
func (p *Pool) Release(n int64, buf []byte) {
	class := sizeClass(n)
	fl, ok, _ := p.classes.PeekOrAdd(class, &freeList{})
	if !ok {
		fl, _ = p.classes.Get(class)
	}
	fl.push(buf[:0])
}

// UsedBytes reports current pool occupancy, for status reporting.
func (p *Pool) UsedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedBytes
}

// CapacityBytes reports the configured budget.
func (p *Pool) CapacityBytes() int64 { return p.capacityBytes }

// DevicePools manages one Pool per GPU device index (cuda_memory_pool_size).
type DevicePools struct {
	mu    sync.Mutex
	pools map[int]*Pool
	sizes map[int]int64
}

func NewDevicePools(sizes map[int]int64) *DevicePools {
	dp := &DevicePools{pools: make(map[int]*Pool), sizes: sizes}
	for dev, sz := range sizes {
		dp.pools[dev] = New(sz)
	}
	return dp
}

func (dp *DevicePools) Pool(device int) *Pool {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	p, ok := dp.pools[device]
	if !ok {
		p = New(0)
		dp.pools[device] = p
	}
	return p
}
