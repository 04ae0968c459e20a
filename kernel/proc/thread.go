// Package proc implements the kernel threads that run user programs. Each
// thread owns a user address space whose pages are loaded on demand.
package proc

import (
	"runtime"
	"sync/atomic"

	"gophervm/kernel"
	"gophervm/kernel/kfmt"
	"gophervm/kernel/mm"
	"gophervm/kernel/mm/frame"
	"gophervm/kernel/mm/page"
	"gophervm/kernel/mm/vmm"
)

var (
	errThreadExited = &kernel.Error{Module: "proc", Message: "thread has exited"}
	errZeroPages    = &kernel.Error{Module: "proc", Message: "reservation must span at least one page"}

	// lastID is the id of the most recently created thread. Thread ids
	// start at 1 as 0 is not a valid lock holder.
	lastID atomic.Uint64

	// yieldFn is invoked while waiting for a pinned frame to become
	// evictable. It is mocked by tests.
	yieldFn = runtime.Gosched

	log = kfmt.Logger("proc")
)

// maxFaultRetries bounds the number of times a page fault is retried while
// every frame is pinned by other threads.
const maxFaultRetries = 1000

// Thread is a kernel thread with a user address space.
type Thread struct {
	id   uint64
	name string

	pd     *vmm.PageDirectory
	pages  *page.Table
	pager  *page.Pager
	exited atomic.Bool
}

// NewThread creates a thread with an empty address space that is paged by
// pager.
func NewThread(name string, pager *page.Pager) *Thread {
	t := &Thread{
		id:    lastID.Add(1),
		name:  name,
		pd:    vmm.NewPageDirectory(),
		pages: page.NewTable(),
		pager: pager,
	}

	log.Debug("thread created", "thread", t.id, "name", name)
	return t
}

// ID returns the thread id.
func (t *Thread) ID() uint64 {
	return t.id
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// PageDirectory implements frame.Owner.
func (t *Thread) PageDirectory() frame.PageDirectory {
	return t.pd
}

// Directory returns the page directory of the thread.
func (t *Thread) Directory() *vmm.PageDirectory {
	return t.pd
}

// Pages returns the supplemental page table of the thread.
func (t *Thread) Pages() *page.Table {
	return t.pages
}

// VisitPages implements frame.Owner.
func (t *Thread) VisitPages(visitFn func(frame.PageEntry)) {
	t.pages.Visit(func(e *page.Entry) {
		visitFn(e)
	})
}

// Reserve adds pageCount zero-filled pages starting at the page that
// contains virtAddr to the address space.
func (t *Thread) Reserve(virtAddr uintptr, pageCount int, writable bool) *kernel.Error {
	if t.exited.Load() {
		return errThreadExited
	}
	if pageCount <= 0 {
		return errZeroPages
	}

	first := mm.PageFromAddress(virtAddr)
	for i := 0; i < pageCount; i++ {
		if _, err := t.pages.Reserve(first+mm.Page(i), writable); err != nil {
			for ; i > 0; i-- {
				t.pages.Remove(first + mm.Page(i-1))
			}
			return err
		}
	}

	return nil
}

// Release removes the page that contains virtAddr from the address space.
func (t *Thread) Release(virtAddr uintptr) bool {
	return t.pager.Release(t, mm.PageFromAddress(virtAddr))
}

// Load reads the byte at virtAddr, faulting the page in if needed.
func (t *Thread) Load(virtAddr uintptr) (byte, *kernel.Error) {
	var value byte
	err := t.access(virtAddr, false, func(mem []byte) {
		value = mem[0]
	})
	return value, err
}

// Store writes value to virtAddr, faulting the page in if needed.
func (t *Thread) Store(virtAddr uintptr, value byte) *kernel.Error {
	return t.access(virtAddr, true, func(mem []byte) {
		mem[0] = value
	})
}

// access performs a memory access the way the MMU does: a missing mapping
// raises a page fault and the access is retried once the fault handler has
// made the page resident. Frames are only pinned for the duration of a fault
// or an eviction, so a fault that finds no victim is retried.
func (t *Thread) access(virtAddr uintptr, write bool, accessFn func(mem []byte)) *kernel.Error {
	if t.exited.Load() {
		return errThreadExited
	}

	for retries := 0; ; {
		err := t.pd.Access(virtAddr, write, func(physAddr uintptr) {
			accessFn(t.pager.PhysBytes(physAddr))
		})
		if err != vmm.ErrInvalidMapping {
			return err
		}

		err = t.pager.Fault(t, virtAddr)
		switch {
		case err == frame.ErrNoVictim && retries < maxFaultRetries:
			retries++
			yieldFn()
		case err != nil:
			return err
		}
	}
}

// Exit tears down the address space of the thread and releases all frames
// and swap slots that back it. Exit must be called by the thread itself.
func (t *Thread) Exit() {
	if !t.exited.CompareAndSwap(false, true) {
		return
	}

	t.pager.Destroy(t)
	log.Debug("thread exited", "thread", t.id, "name", t.name)
}
