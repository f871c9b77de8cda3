package pmm

import "gopheros/kernel"

var (
	// frameAllocator and frameReleaser point to the functions registered
	// by the active physical frame allocator.
	frameAllocator AllocFrameFn
	frameReleaser  FreeFrameFn

	errNoFrameAllocator = &kernel.Error{Module: "pmm", Message: "no frame allocator registered"}
)

// AllocFrameFn is a function that can allocate physical frames.
type AllocFrameFn func() (Frame, *kernel.Error)

// FreeFrameFn is a function that releases a reference to a physical frame
// previously obtained via an AllocFrameFn.
type FreeFrameFn func(Frame)

// SetFrameAllocator registers the function that AllocFrame delegates to.
func SetFrameAllocator(allocFn AllocFrameFn) { frameAllocator = allocFn }

// SetFrameReleaser registers the function that FreeFrame delegates to.
func SetFrameReleaser(freeFn FreeFrameFn) { frameReleaser = freeFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// FreeFrame releases a reference to frame using the currently active
// physical frame allocator. Calls made before an allocator is registered
// are ignored.
func FreeFrame(frame Frame) {
	if frameReleaser != nil {
		frameReleaser(frame)
	}
}
