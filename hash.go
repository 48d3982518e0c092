// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import "github.com/cespare/xxhash/v2"

// Hash64 returns the 64-bit content hash used to key AtomicHashTable and
// DedupCache entries. It is xxHash64 with seed zero: fast, stable across
// processes, not cryptographic.
func Hash64(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashString is Hash64 for strings without a conversion copy.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}
