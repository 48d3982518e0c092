// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MaxTries is the probe budget of AtomicHashTable. A key lives in one of the
// MaxTries slots following hash % entries.
const MaxTries = 10

// Key slot sentinels. Hash keys equal to one of them cannot be stored.
const (
	// EmptyKey marks a slot that was never used. It ends every probe.
	EmptyKey uint64 = 0
	// RemovedKey is the tombstone left by Remove.
	RemovedKey uint64 = ^uint64(0)

	// placeholderKey marks a slot claimed by an insert that has not
	// published its key yet.
	placeholderKey uint64 = ^uint64(0) - 1
)

const keySlotSize = int(unsafe.Sizeof(uint64(0)))

// HashTableAllocationSize returns the buffer size NewAtomicHashTable needs:
// (maxValueSize + 8) * numEntries.
func HashTableAllocationSize(numEntries, maxValueSize int) int {
	return (maxValueSize + keySlotSize) * numEntries
}

// AtomicHashTable is a fixed-capacity open-addressing table from 64-bit hash
// keys to fixed-size value blobs, stored in a caller-owned buffer.
//
// Buffer layout:
//
//	[numEntries]uint64          key slots (EmptyKey, RemovedKey, placeholder or a hash)
//	[numEntries][maxValueSize]  value slots, parallel to the keys
//
// Insert, Remove and GetValue may run concurrently. A value slot is valid
// exactly while its key slot holds the entry's hash: Insert writes the value
// first and publishes the key with a release store, readers load the key
// with acquire before touching the value.
//
// Inserting the same hash from two goroutines at once is undefined: both
// writers copy into the same value slot.
//
// Every slot can be filled only when each hash finds a free slot within
// MaxTries probes of hash % numEntries; a table sized exactly for its keys
// needs hashes that do not collide in that window.
type AtomicHashTable struct {
	_            pad
	count        atomix.Int64 // Live entries (advisory)
	_            pad
	keys         []atomix.Uint64
	values       []byte
	numEntries   uint64
	maxValueSize int
}

// NewAtomicHashTable creates a table over buf and zeroes its key slots.
//
// Panics with a *ConfigError if buf is smaller than
// HashTableAllocationSize(numEntries, maxValueSize), is not 8-byte aligned,
// or numEntries is not larger than MaxTries.
func NewAtomicHashTable(buf []byte, numEntries, maxValueSize int) *AtomicHashTable {
	if numEntries <= MaxTries {
		fatalf("NewAtomicHashTable", "entry count must be greater than %d, supplied %d", MaxTries, numEntries)
	}
	if maxValueSize < 0 {
		fatalf("NewAtomicHashTable", "negative value size %d", maxValueSize)
	}
	need := HashTableAllocationSize(numEntries, maxValueSize)
	if len(buf) < need {
		fatalf("NewAtomicHashTable", "table requires %d bytes, supplied %d bytes", need, len(buf))
	}
	base := unsafe.Pointer(unsafe.SliceData(buf))
	if uintptr(base)%uintptr(keySlotSize) != 0 {
		fatalf("NewAtomicHashTable", "memory must be aligned to %d bytes, supplied %p", keySlotSize, base)
	}

	keyBytes := keySlotSize * numEntries
	t := &AtomicHashTable{
		keys:         unsafe.Slice((*atomix.Uint64)(base), numEntries),
		values:       buf[keyBytes:need:need],
		numEntries:   uint64(numEntries),
		maxValueSize: maxValueSize,
	}
	t.Clear()
	return t
}

// NewAtomicHashTableSize creates a table that owns its buffer.
func NewAtomicHashTableSize(numEntries, maxValueSize int) *AtomicHashTable {
	if numEntries <= MaxTries {
		fatalf("NewAtomicHashTableSize", "entry count must be greater than %d, supplied %d", MaxTries, numEntries)
	}
	// []uint64 backing keeps the key region 8-byte aligned.
	words := (HashTableAllocationSize(numEntries, maxValueSize) + keySlotSize - 1) / keySlotSize
	backing := make([]uint64, words)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(backing))), words*keySlotSize)
	return NewAtomicHashTable(buf, numEntries, maxValueSize)
}

// Insert hashes key with Hash64, stores value under the hash and returns it.
func (t *AtomicHashTable) Insert(key, value []byte) uint64 {
	hash := Hash64(key)
	t.InsertHash(hash, value)
	return hash
}

// InsertHash stores value under hash. Re-inserting a hash overwrites its
// value in place (last write wins).
//
// Panics with a *ConfigError wrapping ErrTableFull when the MaxTries slots
// of the probe run all hold other keys, and with a *ConfigError when value
// exceeds MaxValueSize or hash is a reserved sentinel.
func (t *AtomicHashTable) InsertHash(hash uint64, value []byte) {
	if len(value) > t.maxValueSize {
		fatalf("AtomicHashTable.Insert", "invalid value size: maximum size is %d, supplied %d", t.maxValueSize, len(value))
	}
	if hash == EmptyKey || hash == RemovedKey || hash == placeholderKey {
		fatalf("AtomicHashTable.Insert", "hash key %#x is reserved", hash)
	}

	sw := spin.Wait{}
	for {
		claim, from := -1, EmptyKey
		start := hash % t.numEntries
	probe:
		for i := range uint64(MaxTries) {
			idx := (start + i) % t.numEntries
			switch k := t.keys[idx].LoadAcquire(); k {
			case hash:
				t.publish(idx, hash, value)
				return
			case RemovedKey:
				if claim < 0 {
					claim, from = int(idx), k
				}
			case EmptyKey:
				if claim < 0 {
					claim, from = int(idx), k
				}
				// No entry for hash lives past an empty slot.
				break probe
			}
		}

		if claim < 0 {
			panic(&ConfigError{
				Op:  "AtomicHashTable.Insert",
				Msg: "table is too full, maximum amount of tries reached",
				Err: ErrTableFull,
			})
		}

		if t.keys[claim].CompareAndSwapAcqRel(from, placeholderKey) {
			t.count.Add(1)
			t.publish(uint64(claim), hash, value)
			return
		}
		// Another writer took the slot; rescan the run.
		sw.Once()
	}
}

// publish copies value into slot idx, then releases hash into the key slot.
func (t *AtomicHashTable) publish(idx uint64, hash uint64, value []byte) {
	slot := t.slot(idx)
	n := copy(slot, value)
	clear(slot[n:])
	t.keys[idx].StoreRelease(hash)
}

func (t *AtomicHashTable) slot(idx uint64) []byte {
	m := uint64(t.maxValueSize)
	return t.values[idx*m : idx*m+m : idx*m+m]
}

// Remove deletes the entry for Hash64(key).
func (t *AtomicHashTable) Remove(key []byte) bool {
	return t.RemoveHash(Hash64(key))
}

// RemoveHash deletes the entry for hash, leaving a tombstone.
// Returns false if no entry exists.
func (t *AtomicHashTable) RemoveHash(hash uint64) bool {
	start := hash % t.numEntries
	for i := range uint64(MaxTries) {
		idx := (start + i) % t.numEntries
		switch t.keys[idx].LoadAcquire() {
		case hash:
			if t.keys[idx].CompareAndSwapAcqRel(hash, RemovedKey) {
				t.count.Add(-1)
				return true
			}
			// Lost to a concurrent Remove of the same key.
			return false
		case EmptyKey:
			return false
		}
	}
	return false
}

// GetValue looks up Hash64(key). See GetValueHash.
func (t *AtomicHashTable) GetValue(key []byte) ([]byte, bool) {
	return t.GetValueHash(Hash64(key))
}

// GetValueHash returns the value slot for hash. The slice aliases table
// memory and is MaxValueSize bytes long; it stays valid until the entry is
// removed or overwritten.
func (t *AtomicHashTable) GetValueHash(hash uint64) ([]byte, bool) {
	if idx, ok := t.find(hash); ok {
		return t.slot(idx), true
	}
	return nil, false
}

// Load copies the value for hash into dst and reports whether it exists.
func (t *AtomicHashTable) Load(hash uint64, dst []byte) bool {
	idx, ok := t.find(hash)
	if ok {
		copy(dst, t.slot(idx))
	}
	return ok
}

func (t *AtomicHashTable) find(hash uint64) (uint64, bool) {
	start := hash % t.numEntries
	for i := range uint64(MaxTries) {
		idx := (start + i) % t.numEntries
		// Acquire pairs with the release store in publish: the value
		// bytes written before the key are visible from here on.
		switch t.keys[idx].LoadAcquire() {
		case hash:
			return idx, true
		case EmptyKey:
			return 0, false
		}
	}
	return 0, false
}

// Clear empties the table. The caller guarantees no concurrent access.
func (t *AtomicHashTable) Clear() {
	for i := range t.keys {
		t.keys[i].StoreRelaxed(EmptyKey)
	}
	t.count.Store(0)
}

// Reset is an alias of Clear.
func (t *AtomicHashTable) Reset() {
	t.Clear()
}

// Len returns the advisory number of live entries.
func (t *AtomicHashTable) Len() int {
	return int(t.count.Load())
}

// Cap returns the number of entry slots.
func (t *AtomicHashTable) Cap() int {
	return int(t.numEntries)
}

// MaxValueSize returns the size of each value slot in bytes.
func (t *AtomicHashTable) MaxValueSize() int {
	return t.maxValueSize
}
