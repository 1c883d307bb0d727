// Package malloc implements a bitmap-based fixed-size object allocator.
//
// An Allocator serves one size class. Single-slot requests come from pooled
// chunks, each fronted by a use count and a free-bit bitmap; a per-instance
// cursor amortises runs of allocations to constant time, with a first-fit
// scan and exponential chunk growth behind it. Chunks that empty out are
// parked in a process-wide bounded cache for reuse before being released to
// their raw source. Requests for more than one slot bypass the pools and go
// straight to the raw source.
package malloc

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudmem/bitmapool/bitx"
	"github.com/cloudmem/bitmapool/sysmem"
)

// ErrOutOfMemory is returned when the raw source cannot satisfy a request.
// The allocator's state is unchanged when it is returned.
var ErrOutOfMemory = errors.New("malloc: out of memory")

const (
	// slotAlign is the granule slot sizes are rounded up to.
	slotAlign = 8
	// maxChunkBytes stops the exponential growth generation from doubling
	// once a chunk would exceed it.
	maxChunkBytes = 64 << 20
)

// Allocator hands out fixed-size slots for one size class. Zero value is not
// usable; construct with New or For.
type Allocator struct {
	mu mutex

	elemSize  uintptr
	elemAlign uintptr
	slotSize  uintptr // max(elemSize, elemAlign) rounded up to slotAlign

	blocks      []blockPair  // live chunks, registry order
	cursor      bitmapCursor // rover over bitmap words
	lastDealloc int          // chunk index hint from the previous Free
	blockSize   uint64       // slot count of the next chunk to format

	large map[unsafe.Pointer]region // multi-slot allocations, pinned
}

// New constructs an allocator for elements of the given size and alignment.
// Slots are max(size, align) rounded up to an 8-byte multiple; align must be
// zero or a power of two.
func New(size, align uintptr) *Allocator {
	if size == 0 {
		panic("malloc: zero element size")
	}
	if align&(align-1) != 0 {
		panic(fmt.Sprintf("malloc: alignment must be a power of two, got %d", align))
	}
	slot := size
	if align > slot {
		slot = align
	}
	slot = (slot + slotAlign - 1) &^ (slotAlign - 1)
	a := &Allocator{
		elemSize:  size,
		elemAlign: align,
		slotSize:  slot,
		blockSize: bitsPerWord,
		large:     make(map[unsafe.Pointer]region),
	}
	a.mu.init()
	a.cursor.reset(a, -1)
	return a
}

// Alloc returns a pointer to n contiguous slots. n == 1 is served from the
// bitmap pools; any other positive n goes straight to the raw source.
// Alloc(0) returns nil. The only failure is ErrOutOfMemory.
func (a *Allocator) Alloc(n int) (unsafe.Pointer, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 || uintptr(n) > a.MaxSize() {
		return nil, ErrOutOfMemory
	}
	if n == 1 {
		return a.allocOne()
	}
	return a.allocMany(n)
}

// Free returns n slots at p. p must be a pointer obtained from Alloc with
// the same n on this allocator. A pointer this allocator does not own for
// that kind of request (single slot or multi-slot), a misaligned slot
// pointer, or a double free panics; the exact count of a multi-slot free is
// not checked. Free(nil, n) and Free(p, 0) are no-ops.
func (a *Allocator) Free(p unsafe.Pointer, n int) {
	if p == nil || n == 0 {
		return
	}
	if n == 1 {
		a.freeOne(p)
		return
	}
	a.freeMany(p)
}

// MaxSize returns the largest slot count a single Alloc may request.
func (a *Allocator) MaxSize() uintptr {
	return ^uintptr(0) / a.elemSize
}

// Equal reports whether the two allocators serve the same size class. Such
// instances share the process-wide empty-chunk cache and are interchangeable
// for new allocations, though each owns the slots it handed out.
func (a *Allocator) Equal(other *Allocator) bool {
	return other != nil && a.slotSize == other.slotSize
}

// Stats is a point-in-time summary of an allocator's pools.
type Stats struct {
	Chunks   int // live chunks in the registry
	Slots    int // total slots across live chunks
	InUse    int // allocated slots
	NextSize int // slot count of the next chunk to be formatted
}

// Stats reports the allocator's current pool occupancy.
func (a *Allocator) Stats() Stats {
	a.mu.lock()
	defer a.mu.unlock()
	s := Stats{Chunks: len(a.blocks), NextSize: int(a.blockSize)}
	for i := range a.blocks {
		bp := &a.blocks[i]
		s.Slots += a.numBlocks(bp)
		s.InUse += int(*a.useCount(bp))
	}
	return s
}

// allocOne is the single-slot fast path. The cursor is tried first; if it
// has finished, a first-fit scan over the registry; if that also fails, a
// refill appends a fresh chunk and the cursor restarts on it.
func (a *Allocator) allocOne() (unsafe.Pointer, error) {
	a.mu.lock()
	defer a.mu.unlock()

	// Do not reorder this condition: the cursor word is dereferenceable
	// only while the cursor is not finished.
	for !a.cursor.finished() && *a.cursor.word() == 0 {
		a.cursor.next(a)
	}

	if a.cursor.finished() {
		var fff ffitFinder
		if i := fff.find(a); i >= 0 {
			pos := bitx.ScanForward(*fff.word())
			bitx.Allocate(fff.word(), pos)
			a.cursor.reset(a, i)
			bp := &a.blocks[i]
			*a.useCount(bp)++
			return a.slotAt(bp, fff.offset()+int(pos)), nil
		}
		if err := a.refill(); err != nil {
			return nil, err
		}
		a.cursor.reset(a, len(a.blocks)-1)
	}

	pos := bitx.ScanForward(*a.cursor.word())
	bitx.Allocate(a.cursor.word(), pos)
	bp := &a.blocks[a.cursor.where()]
	*a.useCount(bp)++
	return a.slotAt(bp, a.cursor.offset(a)+int(pos)), nil
}

// freeOne returns one slot. The chunk is located through the last-dealloc
// hint, falling back to a linear registry scan. A chunk whose use count
// drops to zero is unlinked and donated to the empty-chunk cache, and the
// growth generation is halved.
func (a *Allocator) freeOne(p unsafe.Pointer) {
	a.mu.lock()
	defer a.mu.unlock()

	if len(a.blocks) == 0 {
		panic("malloc: free of pointer not owned by this allocator")
	}

	diff := a.lastDealloc
	if diff >= len(a.blocks) || !a.blocks[diff].contains(p) {
		diff = -1
		for i := range a.blocks {
			if a.blocks[i].contains(p) {
				diff = i
				break
			}
		}
		if diff < 0 {
			panic("malloc: free of pointer not owned by this allocator")
		}
		a.lastDealloc = diff
	}

	bp := &a.blocks[diff]
	displacement := uintptr(p) - uintptr(bp.first)
	if displacement%a.slotSize != 0 {
		panic("malloc: misaligned pointer")
	}
	d := displacement / a.slotSize
	rotate := uint(d % bitsPerWord)
	w := bitmapWord(bp, int(d/bitsPerWord))
	if *w&(1<<rotate) != 0 {
		panic("malloc: double free")
	}
	bitx.Free(w, rotate)

	uc := a.useCount(bp)
	*uc--

	if *uc == 0 {
		a.blockSize /= 2
		if a.blockSize < bitsPerWord {
			a.blockSize = bitsPerWord
		}
		freeChunks.insert(region{buf: bp.buf, mmapped: bp.mmapped})
		a.blocks = append(a.blocks[:diff], a.blocks[diff+1:]...)

		// A finished cursor counts as past the erased chunk.
		if a.cursor.finished() || a.cursor.where() >= diff {
			a.cursor.reset(a, diff-1)
		}
		if a.lastDealloc >= len(a.blocks) {
			if diff > 0 {
				a.lastDealloc = diff - 1
			} else {
				a.lastDealloc = 0
			}
		}
	}
}

// refill grows the pool by one chunk of blockSize slots, acquired through
// the empty-chunk cache, then doubles blockSize for the next generation
// unless the doubled chunk would exceed maxChunkBytes.
func (a *Allocator) refill() error {
	n := int(a.blockSize)
	bitmaps := n / bitsPerWord
	size := wordSize + n*int(a.slotSize) + bitmaps*wordSize
	r, err := freeChunks.get(size)
	if err != nil {
		return err
	}
	a.blocks = append(a.blocks, a.formatChunk(r, n))
	if size <= maxChunkBytes/2 {
		a.blockSize *= 2
	}
	return nil
}

// allocMany serves n > 1 slots from the raw source, bypassing the pools.
// The backing slice is retained until the matching Free.
func (a *Allocator) allocMany(n int) (unsafe.Pointer, error) {
	size := uintptr(n) * a.elemSize
	var r region
	if size >= mmapThreshold {
		buf, err := sysmem.Reserve(int(size))
		if err != nil {
			return nil, ErrOutOfMemory
		}
		r = region{buf: buf, mmapped: true}
	} else {
		r = region{buf: mcache.Malloc(int(size))}
	}
	p := unsafe.Pointer(&r.buf[0])
	a.mu.lock()
	a.large[p] = r
	a.mu.unlock()
	return p, nil
}

func (a *Allocator) freeMany(p unsafe.Pointer) {
	a.mu.lock()
	r, ok := a.large[p]
	if !ok {
		a.mu.unlock()
		panic("malloc: free of pointer not owned by this allocator")
	}
	delete(a.large, p)
	a.mu.unlock()
	r.release()
}
