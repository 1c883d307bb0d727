/*
 * Copyright 2026 CloudMem Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bitx provides single-word bit primitives for free-bit bookkeeping.
// A set bit means free, a cleared bit means allocated.
package bitx

import "math/bits"

// Allocate clears bit pos of w, marking the covered slot as allocated.
func Allocate(w *uint64, pos uint) {
	*w &^= 1 << pos
}

// Free sets bit pos of w, marking the covered slot as free.
func Free(w *uint64, pos uint) {
	*w |= 1 << pos
}

// ScanForward returns the index of the least-significant set bit of w.
// w must not be zero; callers test for zero before scanning.
func ScanForward(w uint64) uint {
	return uint(bits.TrailingZeros64(w))
}
