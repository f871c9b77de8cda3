package kmain

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem/pmm"
	"gopheros/kernel/mem/pmm/allocator"
	"io"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestKmain(t *testing.T) {
	defer func(origPanicFn func(interface{})) {
		panicFn = origPanicFn
		allocator.FrameAllocator = allocator.FramePool{}
		pmm.SetFrameAllocator(nil)
		pmm.SetFrameReleaser(nil)
		kfmt.SetOutputSink(nil)
	}(panicFn)
	kfmt.SetOutputSink(io.Discard)

	var reported *kernel.Error
	panicFn = func(e interface{}) {
		reported, _ = e.(*kernel.Error)
	}

	t.Run("invalid range", func(t *testing.T) {
		reported = nil
		Kmain(0x2000, 0x1000)

		if reported == nil || reported == errKmainReturned {
			t.Fatalf("expected Kmain to report the allocator init error; got %v", reported)
		}
	})

	t.Run("success", func(t *testing.T) {
		pageSize := uintptr(4096)

		// Map the block outside of the Go heap so checkptr accepts the
		// uintptr-derived pointers the allocator builds when running with -race
		buf, err := unix.Mmap(-1, 0, int(8*pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = unix.Munmap(buf) }()
		start := uintptr(unsafe.Pointer(&buf[0]))

		reported = nil
		Kmain(start, start+8*pageSize)

		if reported != errKmainReturned {
			t.Fatalf("expected Kmain to report errKmainReturned; got %v", reported)
		}

		// The first frame stores the allocator bookkeeping
		if exp, got := uint32(7), allocator.FrameAllocator.FreeFrameCount(); got != exp {
			t.Fatalf("expected frame allocator to manage %d free frames; got %d", exp, got)
		}
	})
}
