package allocator

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
	"gopheros/kernel/mem/pmm"
)

var (
	// FrameAllocator is the FramePool instance that owns all allocatable
	// physical memory once Init has been called.
	FrameAllocator FramePool
)

// Init sets up the kernel physical memory allocation sub-system. The
// allocatable range starts at the first page boundary after kernelEnd and
// stops at physTop, the top of usable physical memory reported by the
// bootloader. The frame pool bookkeeping is stored in the first frames of
// that range as the Go heap is not yet available. After a successful call,
// FrameAllocator serves as the active frame allocator for the pmm package.
func Init(kernelEnd, physTop uintptr) *kernel.Error {
	if err := FrameAllocator.InitReserved(kernelEnd, physTop); err != nil {
		return err
	}

	printPoolInfo(&FrameAllocator)
	pmm.SetFrameAllocator(allocFrame)
	pmm.SetFrameReleaser(freeFrame)

	return nil
}

// allocFrame and freeFrame are registered with the pmm package instead of
// FrameAllocator's methods. Using method values confuses the compiler's
// escape analysis into thinking that FrameAllocator escapes to heap.
func allocFrame() (pmm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

func freeFrame(frame pmm.Frame) {
	FrameAllocator.FreeFrame(frame.Address())
}

// printPoolInfo outputs the range and size of the memory managed by pool.
func printPoolInfo(pool *FramePool) {
	start, end := pool.Range()
	kfmt.Printf("[frame_pool] managing [0x%10x - 0x%10x], frames: %d\n", start, end, pool.TotalFrames())
	kfmt.Printf("[frame_pool] available memory: %dKb\n", uint64(mem.Size(pool.FreeFrameCount())*mem.PageSize/mem.Kb))
}
