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

// Package sysmem acquires large anonymous memory regions for pool chunks.
// On unix the regions come straight from the OS via mmap, so releasing a
// region returns its pages immediately instead of waiting for the GC.
// Other platforms fall back to uninitialised heap slices.
package sysmem

// Reserve returns a writable region of exactly size bytes.
// The region contents are uninitialised.
func Reserve(size int) ([]byte, error) {
	return reserve(size)
}

// Release returns a region obtained from Reserve.
// buf must be the original slice; reslicing before Release is an error.
func Release(buf []byte) error {
	if cap(buf) == 0 {
		return nil
	}
	return release(buf)
}
