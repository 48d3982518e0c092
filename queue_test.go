// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc_test

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfc"
)

// =============================================================================
// Test Helpers
// =============================================================================

// retryWithTimeout retries f until it returns true or timeout expires.
// Reports failure with the given message if timeout is reached.
func retryWithTimeout(t *testing.T, timeout time.Duration, f func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	backoff := iox.Backoff{}
	for !f() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout after %v: %s", timeout, msg)
		}
		backoff.Wait()
	}
}

// waitForCount waits until counter reaches target or timeout expires.
func waitForCount(t *testing.T, timeout time.Duration, counter *atomix.Int64, target int64, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	backoff := iox.Backoff{}
	for counter.Load() < target {
		if time.Now().After(deadline) {
			t.Fatalf("timeout after %v: %s (got %d, want %d)", timeout, msg, counter.Load(), target)
		}
		backoff.Wait()
	}
}

// expectConfigPanic runs f and fails unless it panics with a *ConfigError
// matching target.
func expectConfigPanic(t *testing.T, target error, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value: got %T, want error", r)
		}
		var ce *lfc.ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("panic value: got %v, want *lfc.ConfigError", err)
		}
		if !errors.Is(err, target) {
			t.Fatalf("panic error: got %v, want %v", err, target)
		}
	}()
	f()
}

func record(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// =============================================================================
// AtomicQueue
// =============================================================================

func TestAtomicQueueBasic(t *testing.T) {
	const n = 4
	q := lfc.NewAtomicQueue(make([]byte, 8*n), 8, n)

	if q.Cap() != n {
		t.Fatalf("Cap: got %d, want %d", q.Cap(), n)
	}
	if q.ItemSize() != 8 {
		t.Fatalf("ItemSize: got %d, want 8", q.ItemSize())
	}

	out := make([]byte, 8)
	if err := q.Dequeue(out); !errors.Is(err, lfc.ErrWouldBlock) {
		t.Fatalf("Dequeue on empty: got %v, want ErrWouldBlock", err)
	}

	for i := range uint64(n) {
		if err := q.Enqueue(record(i + 100)); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
		if got := q.CurrentSize(); got != int(i+1) {
			t.Fatalf("CurrentSize: got %d, want %d", got, i+1)
		}
	}

	// Every slot is usable; the next one is refused.
	if err := q.Enqueue(record(999)); !errors.Is(err, lfc.ErrWouldBlock) {
		t.Fatalf("Enqueue on full: got %v, want ErrWouldBlock", err)
	}
	if got := q.CurrentSize(); got != n {
		t.Fatalf("CurrentSize on full: got %d, want %d", got, n)
	}

	for i := range uint64(n) {
		if err := q.Dequeue(out); err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if got := binary.LittleEndian.Uint64(out); got != i+100 {
			t.Fatalf("Dequeue: got %d, want %d", got, i+100)
		}
	}

	if err := q.Dequeue(out); !errors.Is(err, lfc.ErrWouldBlock) {
		t.Fatalf("Dequeue on drained: got %v, want ErrWouldBlock", err)
	}
	if got := q.CurrentSize(); got != 0 {
		t.Fatalf("CurrentSize on drained: got %d, want 0", got)
	}
}

func TestAtomicQueueTwoItems(t *testing.T) {
	q := lfc.NewAtomicQueue(make([]byte, 2*8), 8, 2)
	out := make([]byte, 8)

	for round := range uint64(50) {
		if err := q.Enqueue(record(round)); err != nil {
			t.Fatalf("round %d: Enqueue first: %v", round, err)
		}
		if err := q.Enqueue(record(round + 1000)); err != nil {
			t.Fatalf("round %d: Enqueue second: %v", round, err)
		}
		if err := q.Enqueue(record(0)); !errors.Is(err, lfc.ErrWouldBlock) {
			t.Fatalf("round %d: Enqueue third: got %v, want ErrWouldBlock", round, err)
		}
		if got := q.CurrentSize(); got != 2 {
			t.Fatalf("round %d: CurrentSize: got %d, want 2", round, got)
		}

		if err := q.Dequeue(out); err != nil || binary.LittleEndian.Uint64(out) != round {
			t.Fatalf("round %d: Dequeue first: got %d, %v", round, binary.LittleEndian.Uint64(out), err)
		}
		if err := q.Dequeue(out); err != nil || binary.LittleEndian.Uint64(out) != round+1000 {
			t.Fatalf("round %d: Dequeue second: got %d, %v", round, binary.LittleEndian.Uint64(out), err)
		}
	}
}

// TestAtomicQueueGenerationWrap runs a one-slot queue through more than 256
// wraps so the 8-bit cursor generation rolls over.
func TestAtomicQueueGenerationWrap(t *testing.T) {
	q := lfc.NewAtomicQueue(make([]byte, 8), 8, 1)
	out := make([]byte, 8)

	for i := range uint64(600) {
		if err := q.Enqueue(record(i)); err != nil {
			t.Fatalf("iteration %d: Enqueue: %v", i, err)
		}
		if err := q.Enqueue(record(i)); !errors.Is(err, lfc.ErrWouldBlock) {
			t.Fatalf("iteration %d: Enqueue on full: got %v, want ErrWouldBlock", i, err)
		}
		if got := q.CurrentSize(); got != 1 {
			t.Fatalf("iteration %d: CurrentSize: got %d, want 1", i, got)
		}
		if err := q.Dequeue(out); err != nil {
			t.Fatalf("iteration %d: Dequeue: %v", i, err)
		}
		if got := binary.LittleEndian.Uint64(out); got != i {
			t.Fatalf("iteration %d: got %d", i, got)
		}
		if err := q.Dequeue(out); !errors.Is(err, lfc.ErrWouldBlock) {
			t.Fatalf("iteration %d: Dequeue on empty: got %v, want ErrWouldBlock", i, err)
		}
	}
}

func TestAtomicQueueWrapAround(t *testing.T) {
	const n = 5
	q := lfc.NewAtomicQueue(make([]byte, 8*n), 8, n)
	out := make([]byte, 8)

	next, want := uint64(0), uint64(0)
	for range 200 {
		// Uneven batches move head and tail across the wrap point at
		// different times.
		for range 3 {
			if err := q.Enqueue(record(next)); err != nil {
				t.Fatalf("Enqueue(%d): %v", next, err)
			}
			next++
		}
		if got := q.CurrentSize(); got != int(next-want) {
			t.Fatalf("CurrentSize: got %d, want %d", got, next-want)
		}
		for range 3 {
			if err := q.Dequeue(out); err != nil {
				t.Fatalf("Dequeue: %v", err)
			}
			if got := binary.LittleEndian.Uint64(out); got != want {
				t.Fatalf("Dequeue: got %d, want %d", got, want)
			}
			want++
		}
	}
}

func TestAtomicQueueSharesCallerBuffer(t *testing.T) {
	buf := make([]byte, 16)
	q := lfc.NewAtomicQueue(buf, 8, 2)
	if err := q.Enqueue(record(0xABCD)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := binary.LittleEndian.Uint64(buf[:8]); got != 0xABCD {
		t.Fatalf("buffer slot 0: got %#x, want %#x", got, 0xABCD)
	}
}

func TestAtomicQueueConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		create func()
	}{
		{"buffer too small", func() { lfc.NewAtomicQueue(make([]byte, 15), 8, 2) }},
		{"zero item size", func() { lfc.NewAtomicQueue(make([]byte, 16), 0, 2) }},
		{"zero items", func() { lfc.NewAtomicQueue(make([]byte, 16), 8, 0) }},
		{"short enqueue", func() {
			q := lfc.NewAtomicQueue(make([]byte, 16), 8, 2)
			q.Enqueue(make([]byte, 4))
		}},
		{"short dequeue", func() {
			q := lfc.NewAtomicQueue(make([]byte, 16), 8, 2)
			q.Dequeue(make([]byte, 4))
		}},
		{"empty typed buffer", func() { lfc.NewTypedQueue[int](nil) }},
		{"zero typed capacity", func() { lfc.NewTypedQueueSize[int](0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectConfigPanic(t, lfc.ErrConfig, tt.create)
		})
	}
}

// =============================================================================
// TypedQueue
// =============================================================================

func TestTypedQueueBasic(t *testing.T) {
	var q lfc.Queue[string] = lfc.NewTypedQueueSize[string](3)

	for _, s := range []string{"a", "b", "c"} {
		if err := q.Enqueue(&s); err != nil {
			t.Fatalf("Enqueue(%q): %v", s, err)
		}
	}
	extra := "d"
	if err := q.Enqueue(&extra); !errors.Is(err, lfc.ErrWouldBlock) {
		t.Fatalf("Enqueue on full: got %v, want ErrWouldBlock", err)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("Dequeue: got %q, want %q", got, want)
		}
	}
	if v, err := q.Dequeue(); !errors.Is(err, lfc.ErrWouldBlock) || v != "" {
		t.Fatalf("Dequeue on empty: got (%q, %v), want (\"\", ErrWouldBlock)", v, err)
	}
}

func TestTypedQueueCopiesValue(t *testing.T) {
	type item struct{ a, b int }
	q := lfc.NewTypedQueueSize[item](2)

	v := item{1, 2}
	q.Enqueue(&v)
	v.a = 99

	got, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.a != 1 || got.b != 2 {
		t.Fatalf("Dequeue: got %+v, want {a:1 b:2}", got)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

// TestAtomicQueueSPMC drains one producer with several consumers and checks
// every record is delivered exactly once.
func TestAtomicQueueSPMC(t *testing.T) {
	if lfc.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}

	const (
		total     = 20000
		consumers = 4
	)
	q := lfc.NewAtomicQueue(make([]byte, 8*64), 8, 64)

	seen := make([]atomix.Int32, total)
	var consumed atomix.Int64
	var wg sync.WaitGroup

	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := make([]byte, 8)
			backoff := iox.Backoff{}
			for consumed.Load() < total {
				if err := q.Dequeue(out); err != nil {
					backoff.Wait()
					continue
				}
				backoff.Reset()
				seen[binary.LittleEndian.Uint64(out)].Add(1)
				consumed.Add(1)
			}
		}()
	}

	backoff := iox.Backoff{}
	for i := uint64(0); i < total; {
		if err := q.Enqueue(record(i)); err != nil {
			backoff.Wait()
			continue
		}
		backoff.Reset()
		i++
	}

	waitForCount(t, 10*time.Second, &consumed, total, "consumers did not drain the queue")
	wg.Wait()

	for i := range seen {
		if got := seen[i].Load(); got != 1 {
			t.Fatalf("record %d: delivered %d times, want 1", i, got)
		}
	}
}

func TestTypedQueueSPMC(t *testing.T) {
	if lfc.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}

	const (
		total     = 20000
		consumers = 4
	)
	q := lfc.NewTypedQueueSize[int](32)

	var sum, consumed atomix.Int64
	var wg sync.WaitGroup
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			backoff := iox.Backoff{}
			for consumed.Load() < total {
				v, err := q.Dequeue()
				if err != nil {
					backoff.Wait()
					continue
				}
				backoff.Reset()
				sum.Add(int64(v))
				consumed.Add(1)
			}
		}()
	}

	backoff := iox.Backoff{}
	for i := 1; i <= total; {
		if q.Enqueue(&i) != nil {
			backoff.Wait()
			continue
		}
		backoff.Reset()
		i++
	}

	waitForCount(t, 10*time.Second, &consumed, total, "consumers did not drain the queue")
	wg.Wait()

	if want := int64(total) * (total + 1) / 2; sum.Load() != want {
		t.Fatalf("sum: got %d, want %d", sum.Load(), want)
	}
}
