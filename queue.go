// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// ring holds the packed head and tail cursors shared by AtomicQueue and
// TypedQueue. The ring never stores items itself.
//
// The producer owns tail and publishes it with a release store. Consumers
// race on head with CAS; a successful CAS hands the copied slot to exactly
// one consumer.
type ring struct {
	_    pad
	head atomix.Uint64 // Consumers CAS here
	_    pad
	tail atomix.Uint64 // Producer stores here
	_    pad
}

// reserve returns the tail offset the producer may write to and the cursor
// to publish afterwards, or ok=false when the ring is full.
func (r *ring) reserve(step, limit uint64) (off uint64, next cursor, ok bool) {
	tail := cursor(r.tail.LoadRelaxed())
	// Acquire pairs with the consumers' CAS: every read of the slot we are
	// about to overwrite has completed.
	head := cursor(r.head.LoadAcquire())
	if full(head, tail) {
		return 0, 0, false
	}
	return tail.offset(), tail.advance(step, limit), true
}

func (r *ring) publish(next cursor) {
	r.tail.StoreRelease(uint64(next))
}

// snapshot loads head and tail for a consumer.
func (r *ring) snapshot() (head, tail cursor) {
	head = cursor(r.head.LoadAcquire())
	tail = cursor(r.tail.LoadAcquire())
	return head, tail
}

// claim moves head from the snapshot to next. Success means the slot copied
// under that snapshot belongs to the caller; failure means another consumer
// advanced head first and the copy must be discarded.
func (r *ring) claim(head, next cursor) bool {
	return r.head.CompareAndSwapAcqRel(uint64(head), uint64(next))
}

func (r *ring) size(step, limit uint64) int {
	head, tail := r.snapshot()
	return int(distance(head, tail, step, limit))
}

// AtomicQueue is a bounded single-producer multi-consumer queue of
// fixed-size byte records stored in a caller-owned buffer.
//
// Only one goroutine may Enqueue at a time. Any number of goroutines may
// Dequeue concurrently. Neither operation blocks or allocates.
//
// Memory: the caller's buffer plus two cache-line isolated cursors.
type AtomicQueue struct {
	ring
	buf      []byte
	itemSize uint64
	numItems uint64
	span     uint64 // itemSize * numItems
}

// NewAtomicQueue creates a queue of numItems records of itemSize bytes over
// buf. The queue keeps buf; the caller must not reuse it while the queue is
// live.
//
// Panics with a *ConfigError if buf is smaller than itemSize*numItems.
func NewAtomicQueue(buf []byte, itemSize, numItems int) *AtomicQueue {
	if itemSize <= 0 || numItems <= 0 {
		fatalf("NewAtomicQueue", "item size and count must be positive, got %d[%d]", itemSize, numItems)
	}
	span := uint64(itemSize) * uint64(numItems)
	if span > maxCursorOffset {
		fatalf("NewAtomicQueue", "queue span %d exceeds the %d-bit cursor offset", span, cursorOffsetBits)
	}
	if uint64(len(buf)) < span {
		fatalf("NewAtomicQueue", "queue %d[%d] requires at least %d bytes, supplied %d bytes",
			itemSize, numItems, span, len(buf))
	}

	return &AtomicQueue{
		buf:      buf[:span:span],
		itemSize: uint64(itemSize),
		numItems: uint64(numItems),
		span:     span,
	}
}

// Enqueue copies ItemSize bytes of item into the queue (producer only).
// Returns ErrWouldBlock if the queue is full.
func (q *AtomicQueue) Enqueue(item []byte) error {
	if uint64(len(item)) < q.itemSize {
		fatalf("AtomicQueue.Enqueue", "item has %d bytes, queue items are %d bytes", len(item), q.itemSize)
	}
	off, next, ok := q.reserve(q.itemSize, q.span)
	if !ok {
		return ErrWouldBlock
	}
	copy(q.buf[off:off+q.itemSize], item)
	q.publish(next)
	return nil
}

// Dequeue copies the oldest record into out (multiple consumers safe).
// Returns ErrWouldBlock if the queue is empty; out is then unspecified.
func (q *AtomicQueue) Dequeue(out []byte) error {
	if uint64(len(out)) < q.itemSize {
		fatalf("AtomicQueue.Dequeue", "output has %d bytes, queue items are %d bytes", len(out), q.itemSize)
	}
	sw := spin.Wait{}
	for {
		head, tail := q.snapshot()
		if head == tail {
			return ErrWouldBlock
		}

		off := head.offset()
		copy(out, q.buf[off:off+q.itemSize])

		if q.claim(head, head.advance(q.itemSize, q.span)) {
			return nil
		}
		sw.Once()
	}
}

// CurrentSize returns the number of queued records from a single snapshot
// of the cursors. The result is advisory under concurrent use.
func (q *AtomicQueue) CurrentSize() int {
	return q.size(q.itemSize, q.span)
}

// ItemSize returns the record size in bytes.
func (q *AtomicQueue) ItemSize() int {
	return int(q.itemSize)
}

// Cap returns the queue capacity in records.
func (q *AtomicQueue) Cap() int {
	return int(q.numItems)
}

// TypedQueue is the AtomicQueue algorithm over a slice of T.
//
// Cursor offsets count slots instead of bytes. Dequeued slots are not
// cleared, so values referenced from a slot stay reachable until the
// producer overwrites it.
type TypedQueue[T any] struct {
	ring
	buffer []T
	n      uint64
}

// NewTypedQueue creates a queue over buf, using every slot of it.
// Panics with a *ConfigError if buf is empty.
func NewTypedQueue[T any](buf []T) *TypedQueue[T] {
	if len(buf) == 0 {
		fatalf("NewTypedQueue", "buffer must hold at least one item")
	}
	if uint64(len(buf)) > maxCursorOffset {
		fatalf("NewTypedQueue", "%d slots exceed the %d-bit cursor offset", len(buf), cursorOffsetBits)
	}
	return &TypedQueue[T]{buffer: buf, n: uint64(len(buf))}
}

// NewTypedQueueSize creates a queue that owns a buffer of capacity slots.
func NewTypedQueueSize[T any](capacity int) *TypedQueue[T] {
	if capacity < 1 {
		fatalf("NewTypedQueueSize", "capacity must be >= 1, got %d", capacity)
	}
	return NewTypedQueue(make([]T, capacity))
}

// Enqueue adds an element to the queue (single producer only).
// Returns ErrWouldBlock if the queue is full.
func (q *TypedQueue[T]) Enqueue(elem *T) error {
	off, next, ok := q.reserve(1, q.n)
	if !ok {
		return ErrWouldBlock
	}
	q.buffer[off] = *elem
	q.publish(next)
	return nil
}

// Dequeue removes and returns an element (multiple consumers safe).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *TypedQueue[T]) Dequeue() (T, error) {
	sw := spin.Wait{}
	for {
		head, tail := q.snapshot()
		if head == tail {
			var zero T
			return zero, ErrWouldBlock
		}

		elem := q.buffer[head.offset()]

		if q.claim(head, head.advance(1, q.n)) {
			return elem, nil
		}
		sw.Once()
	}
}

// CurrentSize returns an advisory element count.
func (q *TypedQueue[T]) CurrentSize() int {
	return q.size(1, q.n)
}

// Cap returns the queue capacity.
func (q *TypedQueue[T]) Cap() int {
	return int(q.n)
}
