package kfmt

import "io"

// ringBufferSize defines the size of the ring buffer that retains Printf
// output while no output sink is registered. It must always be a power of 2.
const ringBufferSize = 2048

// ringBuffer is a fixed-size byte FIFO. When full, new writes overwrite the
// oldest unread bytes so the buffer always holds the most recent output.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// head is the index of the oldest unread byte and len the number of
	// unread bytes.
	head, len int
}

// Write appends p to the buffer, discarding the oldest bytes if needed. It
// never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.head+rb.len)&(ringBufferSize-1)] = b
		if rb.len == ringBufferSize {
			rb.head = (rb.head + 1) & (ringBufferSize - 1)
			continue
		}
		rb.len++
	}

	return len(p), nil
}

// Read drains up to len(p) bytes into p. It returns io.EOF once the buffer
// is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.len == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && rb.len > 0 {
		// copy the contiguous run that starts at head
		run := ringBufferSize - rb.head
		if run > rb.len {
			run = rb.len
		}
		if run > len(p)-n {
			run = len(p) - n
		}

		copy(p[n:], rb.buffer[rb.head:rb.head+run])
		n += run
		rb.len -= run
		rb.head = (rb.head + run) & (ringBufferSize - 1)
	}

	return n, nil
}
