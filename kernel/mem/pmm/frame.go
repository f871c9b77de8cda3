// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"gopheros/kernel/mem"
	"math"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)

	pageSizeMinus1 = uintptr(mem.PageSize - 1)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^pageSizeMinus1) >> mem.PageShift)
}

// FrameAligned returns true if physAddr points to the beginning of a frame.
func FrameAligned(physAddr uintptr) bool {
	return physAddr&pageSizeMinus1 == 0
}
