// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// For Enqueue and EnqueueRun: the queue is full (backpressure)
// For Dequeue: the queue is empty (no data available)
//
// ErrWouldBlock is a control flow signal, not a failure. The caller should
// retry the operation later (with backoff or yield) rather than propagating
// the error.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// ErrTimeout reports that a blocking wait gave up before the awaited work
// finished. The work itself is still in flight; callers re-wait or re-poll.
var ErrTimeout = errors.New("lfc: timed out")

// ErrInvalidState reports a lifecycle call made from a state that does not
// allow it, such as ThreadPool.Join while the pool is running.
var ErrInvalidState = errors.New("lfc: invalid state")

// ErrConfig is the class of structural misconfiguration: buffers sized too
// small, probe budgets exhausted, dependency indices out of range.
// It is never returned. It is carried by a *ConfigError panic.
var ErrConfig = errors.New("lfc: configuration error")

// ErrTableFull is wrapped by the ConfigError raised when an insertion finds
// no free slot within MaxTries probes.
var ErrTableFull = errors.New("lfc: hash table too full")

// ConfigError is the panic value for configuration errors.
//
// Tests that exercise the fatal path recover the panic and check it with
// errors.Is(err, ErrConfig).
type ConfigError struct {
	Op  string
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	return "lfc: " + e.Op + ": " + e.Msg
}

// Unwrap returns the underlying cause chain: the specific sentinel, if any,
// and ErrConfig.
func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Err, ErrConfig}
	}
	return []error{ErrConfig}
}

// fatalf panics with a *ConfigError.
func fatalf(op string, format string, args ...any) {
	panic(&ConfigError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Returns true for nil, ErrWouldBlock, or ErrMore.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

// IsTimeout reports whether err is, or wraps, ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
