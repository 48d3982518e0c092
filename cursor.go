// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

// cursor is a queue head or tail packed into one 64-bit word.
//
//	bits 0..55   offset into the ring (bytes or slots, depending on the queue)
//	bits 56..63  generation, bumped every time the offset wraps to zero
//
// Two cursors with the same offset but different generations describe a full
// ring; bitwise equal cursors describe an empty one.
type cursor uint64

const (
	cursorOffsetBits = 56
	cursorOffsetMask = 1<<cursorOffsetBits - 1
	cursorGenMask    = 0xFF

	// maxCursorOffset bounds the ring span a cursor can address.
	maxCursorOffset = cursorOffsetMask
)

func makeCursor(gen, offset uint64) cursor {
	return cursor((gen&cursorGenMask)<<cursorOffsetBits | offset&cursorOffsetMask)
}

func (c cursor) offset() uint64 { return uint64(c) & cursorOffsetMask }

func (c cursor) gen() uint64 { return uint64(c) >> cursorOffsetBits }

// advance moves the cursor forward by step. Reaching limit wraps the offset
// to zero and bumps the generation (mod 256).
func (c cursor) advance(step, limit uint64) cursor {
	next := c.offset() + step
	if next == limit {
		return makeCursor(c.gen()+1, 0)
	}
	return makeCursor(c.gen(), next)
}

// full reports whether head/tail describe a full ring.
func full(head, tail cursor) bool {
	return head.offset() == tail.offset() && head != tail
}

// distance returns the number of steps between head and tail, reading the
// pair as a snapshot of a ring spanning limit.
func distance(head, tail cursor, step, limit uint64) uint64 {
	h, t := head.offset(), tail.offset()
	switch {
	case h == t:
		if head == tail {
			return 0
		}
		return limit / step
	case t > h:
		return (t - h) / step
	default:
		return (t + limit - h) / step
	}
}
