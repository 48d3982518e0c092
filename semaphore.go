// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import "time"

// semaphore is a counting semaphore bounded by max.
//
// Release past max is dropped. Wait takes one count, blocking up to the
// timeout: Infinite waits forever, zero polls.
//
// x/sync/semaphore.Weighted starts with every unit free and panics when
// released past its size, so it cannot model a count that starts at zero
// and saturates.
type semaphore struct {
	tokens chan struct{}
}

func newSemaphore(initial, max int) *semaphore {
	if max < 1 || initial < 0 || initial > max {
		fatalf("newSemaphore", "invalid count %d of %d", initial, max)
	}
	s := &semaphore{tokens: make(chan struct{}, max)}
	for range initial {
		s.tokens <- struct{}{}
	}
	return s
}

// Release adds count tokens. Returns false if some were dropped because the
// semaphore was at its maximum.
func (s *semaphore) Release(count int) bool {
	for range count {
		select {
		case s.tokens <- struct{}{}:
		default:
			return false
		}
	}
	return true
}

// Wait takes one token.
func (s *semaphore) Wait(timeout time.Duration) bool {
	select {
	case <-s.tokens:
		return true
	default:
	}
	switch {
	case timeout == 0:
		return false
	case timeout < 0:
		<-s.tokens
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.tokens:
		return true
	case <-t.C:
		return false
	}
}

// WaitOrDone takes one token, giving up when done is closed or the timeout
// expires.
func (s *semaphore) WaitOrDone(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-s.tokens:
		return true
	default:
	}
	var expired <-chan time.Time
	switch {
	case timeout == 0:
		return false
	case timeout > 0:
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-s.tokens:
		return true
	case <-done:
		return false
	case <-expired:
		return false
	}
}

// Drain discards every available token.
func (s *semaphore) Drain() {
	for {
		select {
		case <-s.tokens:
		default:
			return
		}
	}
}

// Count returns the available tokens.
func (s *semaphore) Count() int {
	return len(s.tokens)
}
