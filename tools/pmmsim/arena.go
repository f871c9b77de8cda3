package main

import (
	"errors"
	"fmt"
	"unsafe"

	"gopheros/kernel/mem"

	"golang.org/x/sys/unix"
)

var errEmptyArena = errors.New("arena must contain at least one frame")

// arena is an anonymous memory mapping that stands in for the physical memory
// handed to the frame pool. mmap returns page-aligned memory so the arena
// start doubles as the first frame address.
type arena struct {
	mem []byte
}

// mapArena maps frameCount pages of zeroed, private memory.
func mapArena(frameCount int) (*arena, error) {
	if frameCount <= 0 {
		return nil, errEmptyArena
	}

	b, err := unix.Mmap(-1, 0, frameCount*int(mem.PageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("unable to map arena of %d frames: %w", frameCount, err)
	}

	return &arena{mem: b}, nil
}

// Start returns the address of the first byte in the arena.
func (a *arena) Start() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// End returns the address right after the last byte in the arena.
func (a *arena) End() uintptr {
	return a.Start() + uintptr(len(a.mem))
}

// Close unmaps the arena. The arena must not be accessed afterwards.
func (a *arena) Close() error {
	if a.mem == nil {
		return nil
	}

	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}
