package malloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorTraversal(t *testing.T) {
	FlushFreeList()
	defer FlushFreeList()

	a := New(8, 8)
	require.NoError(t, a.refill()) // chunk 0: 64 slots, 1 bitmap word
	require.NoError(t, a.refill()) // chunk 1: 128 slots, 2 bitmap words

	c := &a.cursor
	c.reset(a, 0)
	require.False(t, c.finished())
	assert.Equal(t, 0, c.where())
	assert.Equal(t, 0, c.offset(a))
	assert.Equal(t, ^uint64(0), *c.word())

	// chunk 0 has a single word, so the next step crosses into chunk 1
	c.next(a)
	require.False(t, c.finished())
	assert.Equal(t, 1, c.where())
	assert.Equal(t, 0, c.offset(a))

	// second word of chunk 1 covers slots 64..127
	c.next(a)
	require.False(t, c.finished())
	assert.Equal(t, 1, c.where())
	assert.Equal(t, bitsPerWord, c.offset(a))

	// past the last word of the last chunk the cursor finishes
	c.next(a)
	assert.True(t, c.finished())
}

func TestCursorReset(t *testing.T) {
	FlushFreeList()
	defer FlushFreeList()

	a := New(8, 8)
	require.NoError(t, a.refill())

	c := &a.cursor
	c.reset(a, -1)
	assert.True(t, c.finished())

	c.reset(a, 0)
	assert.False(t, c.finished())
	assert.Same(t, bitmapWord(&a.blocks[0], 0), c.word())
}

func TestCursorWordOrder(t *testing.T) {
	FlushFreeList()
	defer FlushFreeList()

	a := New(8, 8)
	require.NoError(t, a.refill())
	require.NoError(t, a.refill())

	// the cursor walks words in decreasing address order within a chunk
	c := &a.cursor
	c.reset(a, 1)
	w0 := c.word()
	c.next(a)
	w1 := c.word()
	assert.Equal(t, uintptr(wordSize), uintptr(unsafe.Pointer(w0))-uintptr(unsafe.Pointer(w1)))
}

func TestFirstFitSkipsFullChunks(t *testing.T) {
	FlushFreeList()
	defer FlushFreeList()

	a := New(8, 8)
	// fill chunk 0 completely, then put one allocation into chunk 1
	var held []uintptr
	for i := 0; i < bitsPerWord+1; i++ {
		p, err := a.Alloc(1)
		require.NoError(t, err)
		held = append(held, uintptr(p))
	}
	require.Len(t, a.blocks, 2)

	var fff ffitFinder
	idx := fff.find(a)
	require.Equal(t, 1, idx)
	assert.Equal(t, 0, fff.offset())
	assert.NotZero(t, *fff.word())
}

func TestFirstFitEmptyRegistry(t *testing.T) {
	a := New(8, 8)
	var fff ffitFinder
	assert.Equal(t, -1, fff.find(a))
}
