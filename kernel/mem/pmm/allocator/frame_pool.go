// Package allocator implements the kernel's physical frame allocator.
package allocator

import (
	"math/bits"
	"unsafe"

	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
	"gopheros/kernel/mem/pmm"
	"gopheros/kernel/sync"
)

const (
	// scrubPattern is written over every byte of a frame when it is
	// returned to the free list so that dangling accesses read junk.
	scrubPattern = 0x01
)

var (
	// The following functions are used by tests to mock the fatal error
	// path and frame scrubbing.
	panicFn  = kfmt.Panic
	memsetFn = mem.Memset

	errPoolOutOfMemory        = &kernel.Error{Module: "frame_pool", Message: "out of memory"}
	errPoolAlreadyInitialized = &kernel.Error{Module: "frame_pool", Message: "pool already initialized"}
	errInvalidPoolRange       = &kernel.Error{Module: "frame_pool", Message: "allocatable range does not contain any frames"}
	errMisalignedFrameAddr    = &kernel.Error{Module: "frame_pool", Message: "frame address is not page-aligned"}
	errFrameOutOfRange        = &kernel.Error{Module: "frame_pool", Message: "frame address outside of allocatable range"}
	errDoubleFree             = &kernel.Error{Module: "frame_pool", Message: "frame is already on the free list"}
	errRefCountUnderflow      = &kernel.Error{Module: "frame_pool", Message: "reference count decremented below zero"}
	errRefCountOnFreeFrame    = &kernel.Error{Module: "frame_pool", Message: "reference count incremented for a free frame"}
	errFreeListCorrupted      = &kernel.Error{Module: "frame_pool", Message: "free list links to a frame that is not free"}
	errFreeCountMismatch      = &kernel.Error{Module: "frame_pool", Message: "free frame counter does not match free list length"}
)

// FramePool is a physical frame allocator with per-frame reference counts.
//
// Free frames are kept in a LIFO list whose links are stored in the first
// word of each free frame. A frame may be shared by several owners; each
// owner calls FreeFrame when done with it and the frame only returns to the
// free list once its reference count drops to zero. IncRefCount and
// DecRefCount adjust the count but never change free list membership.
//
// All pool state is guarded by a single spinlock. Invalid addresses passed
// to any of the address-based methods are treated as unrecoverable errors
// and trigger a kernel panic.
type FramePool struct {
	lock sync.Spinlock

	// startFrame is the first frame managed by the pool and endFrame
	// the frame right after the last one. Both are fixed by Init.
	startFrame, endFrame pmm.Frame

	// freeHead points to the most recently freed frame or InvalidFrame
	// if the free list is empty.
	freeHead pmm.Frame

	// freeCount tracks the number of frames on the free list.
	freeCount uint32

	// refCount stores the reference count for frame (startFrame + i).
	refCount []uint32

	// freeBitmap has bit i set while frame (startFrame + i) is on the
	// free list.
	freeBitmap []uint64

	initialized bool
}

// tableAllocFn returns zeroed ref-count and free bitmap tables able to track
// frameCount frames.
type tableAllocFn func(frameCount uint32) ([]uint32, []uint64)

// Init sets up the pool to manage every frame in [start, end). The start
// address is rounded up and the end address is rounded down to the page
// size. Each frame is seeded through the same path as FreeFrame so the pool
// starts with all of its frames on the free list with a zero count.
//
// Init allocates its bookkeeping tables from the Go heap. Code that runs
// before the Go runtime is initialized must use InitReserved instead.
func (p *FramePool) Init(start, end uintptr) *kernel.Error {
	startFrame, endFrame, err := alignRange(start, end)
	if err != nil {
		return err
	}

	return p.setup(startFrame, endFrame, func(frameCount uint32) ([]uint32, []uint64) {
		return make([]uint32, frameCount), make([]uint64, bitmapWords(frameCount))
	})
}

// InitReserved works like Init but stores the ref-count table and the free
// bitmap in the leading frames of [start, end). These frames are excluded
// from the pool and never handed out. InitReserved does not allocate from
// the Go heap so it can be invoked while the kernel is still bootstrapping.
func (p *FramePool) InitReserved(start, end uintptr) *kernel.Error {
	startFrame, endFrame, err := alignRange(start, end)
	if err != nil {
		return err
	}

	reserved := pmm.Frame(tableSize(uint32(endFrame - startFrame)).Pages())
	if startFrame+reserved >= endFrame {
		return errInvalidPoolRange
	}

	tableAddr := startFrame.Address()
	return p.setup(startFrame+reserved, endFrame, func(frameCount uint32) ([]uint32, []uint64) {
		memsetFn(tableAddr, 0, mem.Size(reserved)<<mem.PageShift)

		bitmapAddr := tableAddr + refCountTableSize(frameCount)
		return unsafe.Slice((*uint32)(unsafe.Pointer(tableAddr)), frameCount),
			unsafe.Slice((*uint64)(unsafe.Pointer(bitmapAddr)), bitmapWords(frameCount))
	})
}

func (p *FramePool) setup(startFrame, endFrame pmm.Frame, allocTables tableAllocFn) *kernel.Error {
	p.lock.Acquire()
	if p.initialized {
		p.lock.Release()
		return errPoolAlreadyInitialized
	}

	p.startFrame, p.endFrame = startFrame, endFrame
	p.freeHead = pmm.InvalidFrame
	p.freeCount = 0
	p.refCount, p.freeBitmap = allocTables(uint32(endFrame - startFrame))
	p.initialized = true
	p.lock.Release()

	for frame := startFrame; frame < endFrame; frame++ {
		p.FreeFrame(frame.Address())
	}

	return nil
}

// alignRange converts [start, end) into the frames fully contained in it.
func alignRange(start, end uintptr) (pmm.Frame, pmm.Frame, *kernel.Error) {
	pageSizeMinus1 := uintptr(mem.PageSize - 1)
	if start > start+pageSizeMinus1 {
		return 0, 0, errInvalidPoolRange
	}

	startFrame := pmm.FrameFromAddress(start + pageSizeMinus1)
	endFrame := pmm.FrameFromAddress(end)
	if endFrame <= startFrame {
		return 0, 0, errInvalidPoolRange
	}

	return startFrame, endFrame, nil
}

func bitmapWords(frameCount uint32) uint32 {
	return (frameCount + 63) >> 6
}

// refCountTableSize returns the size of the ref-count table padded so the
// bitmap that follows it is 8-byte aligned.
func refCountTableSize(frameCount uint32) uintptr {
	return (uintptr(frameCount)*4 + 7) &^ 7
}

// tableSize returns the space needed for the bookkeeping tables of a pool
// with frameCount frames.
func tableSize(frameCount uint32) mem.Size {
	return mem.Size(refCountTableSize(frameCount)) + mem.Size(bitmapWords(frameCount))<<3
}

// AllocFrame pops the most recently freed frame off the free list and sets
// its reference count to 1. The contents of the returned frame are not
// cleared. If no frames are available, AllocFrame returns InvalidFrame and
// errPoolOutOfMemory.
func (p *FramePool) AllocFrame() (pmm.Frame, *kernel.Error) {
	p.lock.Acquire()
	defer p.lock.Release()

	if p.freeCount == 0 {
		return pmm.InvalidFrame, errPoolOutOfMemory
	}

	frame := p.freeHead
	p.freeHead = *freeLink(frame)

	index := frame - p.startFrame
	p.clearFreeBit(index)
	p.refCount[index] = 1
	p.freeCount--

	return frame, nil
}

// FreeFrame releases one reference to the frame at physAddr. If the frame
// has a positive reference count it is decremented; once the count is zero
// the frame is scrubbed and pushed onto the free list. The scrub only
// happens when the frame rejoins the free list: a frame that is still
// referenced by other owners keeps its contents.
//
// Freeing a frame that is already on the free list or passing an address
// that is misaligned or outside the pool triggers a kernel panic.
func (p *FramePool) FreeFrame(physAddr uintptr) {
	index, err := p.frameIndex(physAddr)
	if err != nil {
		panicFn(err)
		return
	}

	p.lock.Acquire()
	defer p.lock.Release()

	if p.isFree(index) {
		panicFn(errDoubleFree)
		return
	}

	if p.refCount[index] > 0 {
		p.refCount[index]--
	}

	if p.refCount[index] != 0 {
		return
	}

	frame := p.startFrame + index
	memsetFn(physAddr, scrubPattern, mem.PageSize)
	*freeLink(frame) = p.freeHead
	p.freeHead = frame
	p.setFreeBit(index)
	p.freeCount++
}

// IncRefCount registers an additional owner for the frame at physAddr. It
// must be called before the frame is shared (e.g. mapped into a second
// address space). Adding an owner to a frame that is on the free list
// triggers a kernel panic.
func (p *FramePool) IncRefCount(physAddr uintptr) {
	index, err := p.frameIndex(physAddr)
	if err != nil {
		panicFn(err)
		return
	}

	p.lock.Acquire()
	defer p.lock.Release()

	if p.isFree(index) {
		panicFn(errRefCountOnFreeFrame)
		return
	}
	p.refCount[index]++
}

// DecRefCount drops an owner of the frame at physAddr without releasing the
// frame. A frame whose count reaches zero this way stays off the free list
// until FreeFrame is called for it. Decrementing a zero count triggers a
// kernel panic.
func (p *FramePool) DecRefCount(physAddr uintptr) {
	index, err := p.frameIndex(physAddr)
	if err != nil {
		panicFn(err)
		return
	}

	p.lock.Acquire()
	defer p.lock.Release()

	if p.refCount[index] == 0 {
		panicFn(errRefCountUnderflow)
		return
	}
	p.refCount[index]--
}

// RefCount returns the current reference count for the frame at physAddr.
func (p *FramePool) RefCount(physAddr uintptr) uint32 {
	index, err := p.frameIndex(physAddr)
	if err != nil {
		panicFn(err)
		return 0
	}

	p.lock.Acquire()
	count := p.refCount[index]
	p.lock.Release()

	return count
}

// FreeFrameCount returns the number of frames on the free list.
func (p *FramePool) FreeFrameCount() uint32 {
	p.lock.Acquire()
	count := p.freeCount
	p.lock.Release()

	return count
}

// TotalFrames returns the number of frames managed by the pool.
func (p *FramePool) TotalFrames() uint32 {
	return uint32(p.endFrame - p.startFrame)
}

// Range returns the physical address range [start, end) managed by the pool.
func (p *FramePool) Range() (uintptr, uintptr) {
	return p.startFrame.Address(), p.endFrame.Address()
}

// Audit walks the free list and checks that every linked frame belongs to
// the pool, is flagged as free and has a zero reference count, and that the
// number of linked frames matches the free frame counter.
func (p *FramePool) Audit() *kernel.Error {
	p.lock.Acquire()
	defer p.lock.Release()

	var (
		walked   uint32
		maxLinks = p.TotalFrames()
	)

	for frame := p.freeHead; frame.Valid(); frame = *freeLink(frame) {
		if frame < p.startFrame || frame >= p.endFrame || walked >= maxLinks {
			return errFreeListCorrupted
		}

		index := frame - p.startFrame
		if !p.isFree(index) || p.refCount[index] != 0 {
			return errFreeListCorrupted
		}
		walked++
	}

	var flagged uint32
	for _, block := range p.freeBitmap {
		flagged += uint32(bits.OnesCount64(block))
	}

	if walked != p.freeCount || flagged != p.freeCount {
		return errFreeCountMismatch
	}

	return nil
}

// frameIndex validates physAddr and returns the index of its frame relative
// to the start of the pool.
func (p *FramePool) frameIndex(physAddr uintptr) (pmm.Frame, *kernel.Error) {
	if !pmm.FrameAligned(physAddr) {
		return 0, errMisalignedFrameAddr
	}

	frame := pmm.FrameFromAddress(physAddr)
	if frame < p.startFrame || frame >= p.endFrame {
		return 0, errFrameOutOfRange
	}

	return frame - p.startFrame, nil
}

func (p *FramePool) isFree(index pmm.Frame) bool {
	return p.freeBitmap[index>>6]&(1<<(index&63)) != 0
}

func (p *FramePool) setFreeBit(index pmm.Frame) {
	p.freeBitmap[index>>6] |= 1 << (index & 63)
}

func (p *FramePool) clearFreeBit(index pmm.Frame) {
	p.freeBitmap[index>>6] &^= 1 << (index & 63)
}

// freeLink returns a pointer to the free list link stored in the first word
// of a free frame.
func freeLink(frame pmm.Frame) *pmm.Frame {
	return (*pmm.Frame)(unsafe.Pointer(frame.Address()))
}
