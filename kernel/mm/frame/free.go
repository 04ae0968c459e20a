package frame

// Free releases the frame referenced by pe and clears the reference. Pinned
// frames are in use by an allocation or an eviction and are left alone. Free
// returns true if a frame was released.
func (t *Table) Free(cur Owner, pe PageEntry) bool {
	tid := cur.ID()
	t.lock.Acquire(tid)
	defer t.lock.Release(tid)

	slot, ok := t.resolveLocked(pe.Frame())
	if !ok || t.records[slot].pinned {
		return false
	}

	t.removeLocked(slot)
	pe.SetFrame(InvalidHandle)
	return true
}

// Clear releases every frame referenced by the page table of a thread that
// is being destroyed. Clear waits for all in-progress evictions to complete
// and holds the table lock from then until all frames are released, so no
// eviction can repurpose one of the thread's frames in the meantime.
func (t *Table) Clear(owner Owner) {
	tid := owner.ID()

	t.lock.Acquire(tid)
	for t.transitions > 0 {
		t.noTransitions.Wait(tid)
	}

	released := 0
	owner.VisitPages(func(pe PageEntry) {
		if slot, ok := t.resolveLocked(pe.Frame()); ok {
			t.removeLocked(slot)
			pe.SetFrame(InvalidHandle)
			released++
		}
	})
	t.lock.Release(tid)

	log.Debug("released thread frames", "thread", tid, "frames", released)
}
