package malloc

import (
	"sort"
	"sync"
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudmem/bitmapool/sysmem"
)

const (
	// freeListCap bounds the number of empty chunks retained for reuse.
	freeListCap = 64
	// maxWastagePercent rejects a cached chunk when handing it to a smaller
	// request would waste this share of its bytes or more.
	maxWastagePercent = 36
	// mmapThreshold routes acquisitions of at least this many bytes to
	// sysmem instead of mcache.
	mmapThreshold = 1 << 20
)

// region is an empty chunk as the cache sees it: an opaque byte range plus
// the raw source it must eventually be released to. The cache does not
// understand the chunk layout beyond the leading word.
type region struct {
	buf     []byte
	mmapped bool
}

// sizeKey reads the region's sort key. While a region sits in the cache its
// leading word (the use-count word of a live chunk) holds the region's byte
// length; chunk formatting restores it to zero on reuse.
func (r *region) sizeKey() uint64 {
	return *(*uint64)(unsafe.Pointer(&r.buf[0]))
}

func (r *region) release() {
	if r.mmapped {
		sysmem.Release(r.buf)
		return
	}
	mcache.Free(r.buf)
}

// freeList is the process-wide cache of empty chunks, kept sorted by size
// key and bounded at freeListCap entries. When both locks are held, the
// instance lock is acquired first; an instance lock is never acquired while
// this lock is held.
type freeList struct {
	once    sync.Once
	mu      mutex
	regions []region
}

var freeChunks freeList

func (f *freeList) lock() {
	f.once.Do(func() { f.mu.init() })
	f.mu.lock()
}

func (f *freeList) unlock() {
	f.mu.unlock()
}

// insert donates an empty chunk to the cache. The region's byte length is
// stamped into its leading word first, making it the sort key.
func (f *freeList) insert(r region) {
	*(*uint64)(unsafe.Pointer(&r.buf[0])) = uint64(len(r.buf))
	f.lock()
	defer f.unlock()
	f.validate(r)
}

// validate decides what to do with a donation. A full cache keeps it only if
// it undercuts the largest cached entry, which is then released; otherwise
// the donation itself is released. Whatever survives is inserted at its
// sorted position.
func (f *freeList) validate(r region) {
	if len(f.regions) >= freeListCap {
		back := f.regions[len(f.regions)-1]
		if r.sizeKey() >= back.sizeKey() {
			r.release()
			return
		}
		back.release()
		f.regions = f.regions[:len(f.regions)-1]
	}
	key := r.sizeKey()
	i := sort.Search(len(f.regions), func(i int) bool {
		return f.regions[i].sizeKey() >= key
	})
	f.regions = append(f.regions, region{})
	copy(f.regions[i+1:], f.regions[i:])
	f.regions[i] = r
}

// get satisfies a chunk acquisition of size bytes. The smallest cached
// region that passes the wastage test wins; otherwise the raw source is
// asked for exactly size bytes.
func (f *freeList) get(size int) (region, error) {
	f.lock()
	i := sort.Search(len(f.regions), func(i int) bool {
		return f.regions[i].sizeKey() >= uint64(size)
	})
	if i < len(f.regions) && shouldGive(f.regions[i].sizeKey(), uint64(size)) {
		r := f.regions[i]
		f.regions = append(f.regions[:i], f.regions[i+1:]...)
		f.unlock()
		return r, nil
	}
	f.unlock()

	if size >= mmapThreshold {
		buf, err := sysmem.Reserve(size)
		if err != nil {
			return region{}, ErrOutOfMemory
		}
		return region{buf: buf, mmapped: true}, nil
	}
	return region{buf: mcache.Malloc(size)}, nil
}

// shouldGive applies the wastage heuristic.
func shouldGive(blockSize, requiredSize uint64) bool {
	return blockSize >= requiredSize &&
		(blockSize-requiredSize)*100/blockSize < maxWastagePercent
}

// FlushFreeList releases every cached empty chunk back to its raw source.
func FlushFreeList() {
	freeChunks.lock()
	defer freeChunks.unlock()
	for i := range freeChunks.regions {
		freeChunks.regions[i].release()
		freeChunks.regions[i] = region{}
	}
	freeChunks.regions = freeChunks.regions[:0]
}
