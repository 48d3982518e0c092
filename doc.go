// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lfc provides fixed-capacity lock-free containers and a task
// graph scheduler built on them.
//
// The package offers four primitives:
//
//   - AtomicQueue: single-producer multi-consumer ring of fixed-size records
//   - AtomicHashTable: open-addressing map from 64-bit hashes to value blobs
//   - ThreadPool: fixed worker set with start/pause/stop/join control
//   - CommandTree: DAG of commands dispatched onto a ThreadPool
//
// plus MemPool, a lock-free slot allocator, and DedupCache, a content-hash
// keyed store built from a MemPool and an AtomicHashTable.
//
// No container grows. Queue and table memory is a caller-supplied buffer
// sized up front; the *Size constructors allocate it for the caller.
//
// # Quick Start
//
// Queue of byte records over a caller buffer:
//
//	buf := make([]byte, 16*128)
//	q := lfc.NewAtomicQueue(buf, 16, 128)
//
//	rec := make([]byte, 16)
//	if err := q.Enqueue(rec); lfc.IsWouldBlock(err) {
//	    // Queue is full - handle backpressure
//	}
//	if err := q.Dequeue(rec); lfc.IsWouldBlock(err) {
//	    // Queue is empty - try again later
//	}
//
// Hash table:
//
//	size := lfc.HashTableAllocationSize(1024, 32)
//	t := lfc.NewAtomicHashTableSize(1024, 32)
//	_ = size // bytes to reserve when supplying the buffer yourself
//
//	h := t.Insert([]byte("sampler:linear"), value)
//	v, ok := t.GetValueHash(h)
//
// Task graph:
//
//	tree := lfc.NewCommandTree(runtime.NumCPU())
//	defer tree.Close(lfc.Infinite)
//
//	tree.ConstructTree([]lfc.TreeNode{
//	    lfc.NewTreeNode(load, "a"),
//	    lfc.NewTreeNode(load, "b"),
//	    lfc.NewTreeNode(link, nil, 0, 1), // after nodes 0 and 1
//	})
//	code, err := tree.ExecuteCommands(time.Second)
//
// # Queue Cursors
//
// AtomicQueue and TypedQueue keep head and tail as 64-bit words packing a
// 56-bit offset and an 8-bit generation. The generation is bumped whenever
// the offset wraps, so equal offsets mean empty when the generations match
// and full when they differ. Every slot is usable.
//
// The single producer publishes the tail with a release store after copying
// the record in. Consumers copy the head record speculatively and claim it
// with a CAS on head; a consumer that loses the CAS drops its copy and
// retries. A consumer stalled for exactly 256 wraps of the ring can be
// fooled by a recycled cursor; the ring must be far larger than the worst
// consumer stall for that to be impossible in practice.
//
// # Hash Table Protocol
//
// Key slots hold EmptyKey, RemovedKey, a transient placeholder, or a hash.
// An insert claims a free slot by CAS to the placeholder, copies the value,
// then release-stores the hash. Readers acquire-load the key before reading
// the value. A probe visits at most MaxTries consecutive slots and stops at
// the first EmptyKey.
//
// Running out of probes on insert is a sizing error: the table panics with
// a *ConfigError wrapping ErrTableFull. Size tables at least twice the
// expected live entries.
//
// # Thread Pool Lifecycle
//
//	Stopped --Start--> Running --Pause--> Paused --Start--> Running
//	   ^                                                      |
//	   +-------------------------Stop-------------------------+
//
// Pause and Stop only hold back work not yet dequeued. A routine already
// running always runs to completion; Stop and Join report ErrTimeout when it
// outlasts their timeout and can be called again to keep waiting.
//
// # Command Trees
//
// A tree holds up to MaxNodes nodes with up to MaxDepends dependencies each.
// Every execution runs each node exactly once. When a node's routine
// returns, each child's dependency counter is incremented; the increment
// that completes a child enqueues it. The first non-zero routine result is
// the execution result. Descendants of a failed node are skipped, other
// branches run on.
//
// Trees emit an OpenTelemetry span per execution and counters for
// executions and node outcomes. See the prom subpackage for a Prometheus
// collector over pool and tree stats.
//
// # Error Handling
//
// Three kinds of error exist:
//
//   - Capacity conditions (queue full or empty, pool exhausted) return
//     [ErrWouldBlock], sourced from [code.hybscloud.com/iox].
//   - Waits that run out of time return [ErrTimeout]; lifecycle calls from
//     the wrong state return [ErrInvalidState].
//   - Misconfiguration (buffers too small, bad indices, table overflow)
//     panics with a [*ConfigError] wrapping [ErrConfig].
//
// CAS contention is never reported; operations retry internally.
//
// # Timeouts
//
// Blocking calls take a time.Duration. [Infinite] waits forever, zero polls
// once.
//
// # Race Detection
//
// The containers synchronize through acquire/release pairs on separate
// words, which the race detector does not model. Concurrent tests are
// skipped when [RaceEnabled] is true.
package lfc
