package mem

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of using a for loop, this function uses log2(size) copy calls which should
// give us a speed boost as page addresses are always aligned.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := Size(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}
