package kmain

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem/pmm/allocator"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code passes the physical address of the end of
// the kernel image and the top of usable physical memory as detected by the
// bootloader; everything between the two is handed to the frame allocator.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(kernelEnd, physTop uintptr) {
	if err := allocator.Init(kernelEnd, physTop); err != nil {
		panicFn(err)
		return
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}
