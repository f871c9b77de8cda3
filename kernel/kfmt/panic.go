package kfmt

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
)

var (
	// cpuHaltFn is invoked by Panic after the error has been reported.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFn overrides the function that Panic uses to stop execution.
// Passing nil restores cpu.Halt. Hosted tools use this to exit the process
// instead of executing a privileged instruction.
func SetHaltFn(fn func()) {
	if fn == nil {
		fn = cpu.Halt
	}
	cpuHaltFn = fn
}

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return on real hardware.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
