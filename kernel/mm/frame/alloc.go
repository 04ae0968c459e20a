package frame

import (
	"gophervm/kernel"
	"gophervm/kernel/kfmt"
	"gophervm/kernel/mm"
)

// Allocate returns a pinned frame for page in the address space of cur. It
// tries to obtain a fresh frame from the page allocator and falls back to
// evicting a registered frame. If flags contains mm.AllocZero the contents
// of the returned frame are cleared.
//
// Allocate returns ErrNoVictim if no frame can be evicted and ErrEvictFailed
// if the eviction callback failed. The caller must Unpin the frame once it
// has installed the page mapping.
func (t *Table) Allocate(cur Owner, page mm.Page, flags mm.AllocFlag) (Handle, *kernel.Error) {
	if frame, err := t.alloc.AllocFrame(flags | mm.AllocUser); err == nil {
		tid := cur.ID()
		t.lock.Acquire(tid)
		h := t.insertLocked(cur, page, frame)
		t.lock.Release(tid)

		t.freshAllocs.Add(1)
		return h, nil
	}

	h, err := t.evict(cur, page)
	if err != nil {
		return InvalidHandle, err
	}

	// The frame still holds the contents of the evicted page.
	if flags&mm.AllocZero != 0 {
		kernel.Memset(t.Bytes(h), 0)
	}

	return h, nil
}

// Unpin makes the frame referenced by h eligible for eviction. Calling Unpin
// while cur holds the table lock, or on a frame that is not pinned, halts
// the calling thread.
func (t *Table) Unpin(cur Owner, h Handle) {
	tid := cur.ID()
	if t.lock.HeldBy(tid) {
		kfmt.Panic(errUnpinLocked)
	}

	t.lock.Acquire(tid)
	defer t.lock.Release(tid)

	slot, ok := t.resolveLocked(h)
	if !ok {
		kfmt.Panic(errInvalidHandle)
	}

	t.unpinLocked(slot)
}
