// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// NoIndex is returned by MemPool when no slot is available.
const NoIndex = ^uint32(0)

// freeHead packs the free-list head: generation in the high 32 bits, slot
// index in the low 32. The generation changes on every successful CAS so a
// head popped and pushed back in between reads as different (ABA).
type freeHead uint64

func makeFreeHead(gen, idx uint32) freeHead { return freeHead(uint64(gen)<<32 | uint64(idx)) }

func (h freeHead) index() uint32 { return uint32(h) }

func (h freeHead) gen() uint32 { return uint32(h >> 32) }

// MemPool is a fixed-capacity lock-free slot allocator over a []T.
//
// Slots never used are handed out by bumping a counter. Freed slots form a
// linked free list whose links live beside the items, so T may hold
// pointers. Allocate and Free may run concurrently from any goroutine.
//
// The pool does not track ownership: freeing a slot twice or using a slot
// after Free corrupts it.
type MemPool[T any] struct {
	_     pad
	head  atomix.Uint64 // freeHead
	_     pad
	used  atomix.Uint64 // Slots ever handed out by bumping
	_     pad
	items []T
	next  []atomix.Uint64 // next[i] is the free-list successor of slot i
}

// NewMemPool creates a pool over items.
// Panics with a *ConfigError if items is empty or too large to index.
func NewMemPool[T any](items []T) *MemPool[T] {
	if len(items) == 0 {
		fatalf("NewMemPool", "pool must hold at least one item")
	}
	if uint64(len(items)) >= uint64(NoIndex) {
		fatalf("NewMemPool", "%d items exceed the index range", len(items))
	}
	p := &MemPool[T]{
		items: items,
		next:  make([]atomix.Uint64, len(items)),
	}
	p.Reset()
	return p
}

// NewMemPoolSize creates a pool that owns capacity slots.
func NewMemPoolSize[T any](capacity int) *MemPool[T] {
	if capacity < 1 {
		fatalf("NewMemPoolSize", "capacity must be >= 1, got %d", capacity)
	}
	return NewMemPool(make([]T, capacity))
}

// Allocate reserves a slot and returns its index, or (NoIndex, false) when
// the pool is exhausted. The slot keeps whatever it held before.
func (p *MemPool[T]) Allocate() (uint32, bool) {
	sw := spin.Wait{}
	head := freeHead(p.head.LoadAcquire())
	for head.index() != NoIndex {
		idx := head.index()
		succ := uint32(p.next[idx].LoadAcquire())
		if p.head.CompareAndSwapAcqRel(uint64(head), uint64(makeFreeHead(head.gen()+1, succ))) {
			return idx, true
		}
		sw.Once()
		head = freeHead(p.head.LoadAcquire())
	}

	n := uint64(len(p.items))
	if p.used.LoadRelaxed() < n {
		if idx := p.used.Add(1) - 1; idx < n {
			return uint32(idx), true
		}
	}
	return NoIndex, false
}

// Free returns slot idx to the pool. The slot's contents are left in place.
func (p *MemPool[T]) Free(idx uint32) {
	if uint64(idx) >= p.usedCount() {
		fatalf("MemPool.Free", "index %d was never allocated", idx)
	}
	sw := spin.Wait{}
	for {
		head := freeHead(p.head.LoadAcquire())
		p.next[idx].StoreRelease(uint64(head.index()))
		if p.head.CompareAndSwapAcqRel(uint64(head), uint64(makeFreeHead(head.gen()+1, idx))) {
			return
		}
		sw.Once()
	}
}

// Insert allocates a slot and copies *v into it.
func (p *MemPool[T]) Insert(v *T) (uint32, bool) {
	idx, ok := p.Allocate()
	if ok {
		p.items[idx] = *v
	}
	return idx, ok
}

// At returns a pointer to slot idx.
func (p *MemPool[T]) At(idx uint32) *T {
	return &p.items[idx]
}

// IndexOf returns the index of the slot ptr points to.
// Panics with a *ConfigError if ptr is not a slot handed out by the pool.
func (p *MemPool[T]) IndexOf(ptr *T) uint32 {
	size := unsafe.Sizeof(*ptr)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.items)))
	addr := uintptr(unsafe.Pointer(ptr))
	if size == 0 || addr < base || (addr-base)%size != 0 || uint64((addr-base)/size) >= p.usedCount() {
		fatalf("MemPool.IndexOf", "cannot obtain index from invalid pool memory: %p", ptr)
	}
	return uint32((addr - base) / size)
}

// Used returns the number of slots ever handed out by bumping. Freed slots
// still count.
func (p *MemPool[T]) Used() uint32 {
	return uint32(p.usedCount())
}

func (p *MemPool[T]) usedCount() uint64 {
	return min(p.used.Load(), uint64(len(p.items)))
}

// Cap returns the number of slots.
func (p *MemPool[T]) Cap() int {
	return len(p.items)
}

// Reset forgets every allocation. The caller guarantees no concurrent use.
func (p *MemPool[T]) Reset() {
	p.used.Store(0)
	p.head.Store(uint64(makeFreeHead(0, NoIndex)))
}
