// Package sync provides synchronization primitive implementations for spinlocks.
package sync

import "sync/atomic"

const (
	// spinAttemptsBeforeYielding controls how many times Acquire retries
	// the lock before invoking yieldFn.
	spinAttemptsBeforeYielding = 64
)

var (
	// TODO: replace with real yield function when context-switching is implemented.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Holders must never sleep or block while
// the lock is held.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, spinAttemptsBeforeYielding)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock spins on state until it can flip it from 0 to 1. After
// every attemptsBeforeYielding failed attempts it gives the scheduler a
// chance to run the lock holder via yieldFn (if one is set).
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	for {
		for attempt := uint32(0); attempt < attemptsBeforeYielding; attempt++ {
			// Only attempt the CAS when the lock looks free so that
			// waiters do not keep bouncing the cache line.
			if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
				return
			}
		}

		if yieldFn != nil {
			yieldFn()
		}
	}
}
