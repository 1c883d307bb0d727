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

package sysmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveRelease(t *testing.T) {
	buf, err := Reserve(1 << 20)
	require.NoError(t, err)
	require.Equal(t, 1<<20, len(buf))

	// region must be writable end to end
	buf[0] = 0xAB
	buf[len(buf)-1] = 0xCD
	assert.Equal(t, byte(0xAB), buf[0])
	assert.Equal(t, byte(0xCD), buf[len(buf)-1])

	assert.NoError(t, Release(buf))
}

func TestReleaseEmpty(t *testing.T) {
	assert.NoError(t, Release(nil))
	assert.NoError(t, Release([]byte{}))
}

func TestReserveMany(t *testing.T) {
	var regions [][]byte
	for i := 0; i < 8; i++ {
		buf, err := Reserve(64 * 1024)
		require.NoError(t, err)
		buf[0] = byte(i)
		regions = append(regions, buf)
	}
	for i, buf := range regions {
		assert.Equal(t, byte(i), buf[0])
		assert.NoError(t, Release(buf))
	}
}
