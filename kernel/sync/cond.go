package sync

import "gophervm/kernel/kfmt"

// Cond is a condition variable bound to a Lock. Waiters are woken in FIFO
// order. Wakeups have Mesa semantics: a woken thread re-acquires the lock
// before Wait returns and must re-check the condition it waited for.
type Cond struct {
	lock *Lock

	// waiters is protected by lock.
	waiters []chan struct{}
}

// NewCond returns a condition variable associated with l.
func NewCond(l *Lock) *Cond {
	return &Cond{lock: l}
}

// Wait atomically releases the associated lock and suspends the calling
// thread until Broadcast is called. The lock is re-acquired before
// Wait returns. The caller must hold the lock.
func (c *Cond) Wait(tid uint64) {
	if !c.lock.HeldBy(tid) {
		kfmt.Panic(errNotHolder)
	}

	wakeup := make(chan struct{})
	c.waiters = append(c.waiters, wakeup)

	c.lock.Release(tid)
	<-wakeup
	c.lock.Acquire(tid)
}

// Broadcast wakes up all waiters. The caller must hold the lock.
func (c *Cond) Broadcast(tid uint64) {
	if !c.lock.HeldBy(tid) {
		kfmt.Panic(errNotHolder)
	}

	for _, wakeup := range c.waiters {
		close(wakeup)
	}
	c.waiters = nil
}

// waiterCount returns the number of threads blocked in Wait. The caller must
// hold the lock.
func (c *Cond) waiterCount() int {
	return len(c.waiters)
}
