package sync

import (
	"sync/atomic"

	"gophervm/kernel"
	"gophervm/kernel/kfmt"
)

var (
	errInvalidHolder    = &kernel.Error{Module: "sync", Message: "lock holder id must be non-zero"}
	errRecursiveAcquire = &kernel.Error{Module: "sync", Message: "lock already held by the acquiring thread"}
	errNotHolder        = &kernel.Error{Module: "sync", Message: "lock released or waited on by a thread that does not hold it"}
)

// Lock is a non-recursive spinlock that remembers which kernel thread holds
// it. Threads identify themselves with a non-zero id. Unlike a bare
// Spinlock, a Lock detects recursive acquisition and release by a thread
// that does not hold it, and halts the offending thread via kfmt.Panic.
type Lock struct {
	sl     Spinlock
	holder uint64
}

// Acquire blocks until the lock is available and records tid as its holder.
func (l *Lock) Acquire(tid uint64) {
	if tid == 0 {
		kfmt.Panic(errInvalidHolder)
	}
	if l.HeldBy(tid) {
		kfmt.Panic(errRecursiveAcquire)
	}

	l.sl.Acquire()
	atomic.StoreUint64(&l.holder, tid)
}

// Release relinquishes the lock. The caller must be the current holder.
func (l *Lock) Release(tid uint64) {
	if !l.HeldBy(tid) {
		kfmt.Panic(errNotHolder)
	}

	atomic.StoreUint64(&l.holder, 0)
	l.sl.Release()
}

// HeldBy returns true if the lock is currently held by the thread with the
// given id.
func (l *Lock) HeldBy(tid uint64) bool {
	return tid != 0 && atomic.LoadUint64(&l.holder) == tid
}
