// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"time"

	"golang.org/x/sys/cpu"
)

// Queue is the combined producer-consumer interface for a bounded FIFO queue.
//
// Enqueue and Dequeue never block. Both return ErrWouldBlock when they
// cannot proceed (queue full or empty).
//
// Example:
//
//	q := lfc.NewTypedQueueSize[int](1024)
//
//	val := 42
//	if err := q.Enqueue(&val); err != nil {
//	    // Handle full queue
//	}
//
//	elem, err := q.Dequeue()
//	if err == nil {
//	    fmt.Println(elem)
//	}
type Queue[T any] interface {
	Producer[T]
	Consumer[T]
	Cap() int
}

// Producer is the interface for enqueueing elements.
//
// The element is passed by pointer to avoid copying large structs. The queue
// stores a copy of the pointed-to value, so the original can be modified
// after Enqueue returns.
type Producer[T any] interface {
	// Enqueue adds an element to the queue (non-blocking).
	// Returns nil on success, ErrWouldBlock if the queue is full.
	//
	// TypedQueue admits a single producer at a time.
	Enqueue(elem *T) error
}

// Consumer is the interface for dequeueing elements.
type Consumer[T any] interface {
	// Dequeue removes and returns an element from the queue (non-blocking).
	// Returns (zero-value, ErrWouldBlock) if the queue is empty.
	// Any number of consumers may call Dequeue concurrently.
	Dequeue() (T, error)
}

// Infinite disables the timeout of Stop, Join, ExecuteCommands and Wait.
const Infinite time.Duration = -1

// pad is cache line padding to prevent false sharing.
type pad = cpu.CacheLinePad
