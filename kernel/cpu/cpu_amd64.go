// Package cpu exposes the privileged instructions that the rest of the kernel
// needs. All functions are implemented in assembly and must only be invoked
// while running in ring 0.
package cpu

// Halt disables interrupts and stops instruction execution.
func Halt()
