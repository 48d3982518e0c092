// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import "encoding/binary"

const cacheIndexSize = 4

// DedupCache stores one T per distinct key content. Entries are addressed
// by the Hash64 of their key; inserting equal keys twice stores one entry.
//
// A DedupCache owns an AtomicHashTable mapping hash to slot index and a
// MemPool holding the values. The table has twice as many entries as the
// pool so probe runs stay short.
//
// Insert and Get may run concurrently. Two goroutines inserting the same
// new key at once may both pass the lookup, and both entries can land in
// the table; Get then returns one of them. Len counts such duplicates.
type DedupCache[T any] struct {
	table *AtomicHashTable
	pool  *MemPool[T]
}

// NewDedupCache creates a cache for up to capacity distinct entries.
// Panics with a *ConfigError if capacity is less than 1.
func NewDedupCache[T any](capacity int) *DedupCache[T] {
	if capacity < 1 {
		fatalf("NewDedupCache", "capacity must be >= 1, got %d", capacity)
	}
	return &DedupCache[T]{
		table: NewAtomicHashTableSize(max(capacity*2, MaxTries+1), cacheIndexSize),
		pool:  NewMemPoolSize[T](capacity),
	}
}

// Insert stores v under Hash64(key) unless an entry already exists, and
// returns the hash. Returns ErrWouldBlock when the cache is full.
func (c *DedupCache[T]) Insert(key []byte, v T) (uint64, error) {
	hash := Hash64(key)
	return hash, c.InsertHash(hash, v)
}

// InsertHash is Insert with a precomputed hash.
func (c *DedupCache[T]) InsertHash(hash uint64, v T) error {
	var idx [cacheIndexSize]byte
	if c.table.Load(hash, idx[:]) {
		return nil
	}
	slot, ok := c.pool.Insert(&v)
	if !ok {
		return ErrWouldBlock
	}
	// Another writer may have published the key while we allocated.
	if c.table.Load(hash, idx[:]) {
		c.pool.Free(slot)
		return nil
	}
	binary.LittleEndian.PutUint32(idx[:], slot)
	c.table.InsertHash(hash, idx[:])
	return nil
}

// Get returns the entry stored under hash. The pointer stays valid until
// Reset; callers may fill in derived state through it.
func (c *DedupCache[T]) Get(hash uint64) (*T, bool) {
	var idx [cacheIndexSize]byte
	if !c.table.Load(hash, idx[:]) {
		return nil, false
	}
	return c.pool.At(binary.LittleEndian.Uint32(idx[:])), true
}

// Contains reports whether an entry exists for key.
func (c *DedupCache[T]) Contains(key []byte) bool {
	_, ok := c.Get(Hash64(key))
	return ok
}

// Range calls fn for every slot ever handed out, including duplicates and
// slots released by a lost insert race, until fn returns false.
func (c *DedupCache[T]) Range(fn func(v *T) bool) {
	for i := range c.pool.Used() {
		if !fn(c.pool.At(i)) {
			return
		}
	}
}

// Len returns the number of table entries. It equals the number of
// distinct keys unless concurrent first inserts of one key both landed.
func (c *DedupCache[T]) Len() int {
	return c.table.Len()
}

// Cap returns the maximum number of entries.
func (c *DedupCache[T]) Cap() int {
	return c.pool.Cap()
}

// Reset drops every entry. The caller guarantees no concurrent use.
func (c *DedupCache[T]) Reset() {
	c.table.Clear()
	c.pool.Reset()
}
