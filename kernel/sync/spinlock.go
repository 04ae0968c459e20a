// Package sync provides the kernel's synchronization primitives: spinlocks,
// owner-tracking locks and condition variables.
package sync

import (
	"runtime"
	"sync/atomic"
)

var (
	// yieldFn is invoked by a spinning task after spinAttempts failed
	// acquisition attempts. Kernel threads are hosted on goroutines so
	// yielding hands the CPU back to the Go scheduler.
	yieldFn = runtime.Gosched
)

const spinAttempts = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, spinAttempts)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock spins on a compare-and-swap of state, yielding after
// every attemptsBeforeYielding failed attempts.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	for {
		for attempt := uint32(0); attempt < attemptsBeforeYielding; attempt++ {
			if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
				return
			}
		}
		yieldFn()
	}
}
