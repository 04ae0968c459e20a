package frame

import (
	"gophervm/kernel"
	"gophervm/kernel/mm"
)

// evict selects a victim frame, evicts the page it currently backs and
// reassigns it to page in the address space of cur. The returned frame is
// pinned.
func (t *Table) evict(cur Owner, page mm.Page) (Handle, *kernel.Error) {
	tid := cur.ID()

	t.lock.Acquire(tid)
	slot := t.selectVictimLocked()
	if slot == sentinel {
		t.lock.Release(tid)
		return InvalidHandle, ErrNoVictim
	}

	t.transitions++
	victim := &t.records[slot]
	prevOwner, prevPage := victim.owner, victim.page
	h := makeHandle(slot, victim.gen)
	t.lock.Release(tid)

	evicted := t.evictFn(prevOwner, prevPage, h)

	t.lock.Acquire(tid)
	if evicted {
		// Repurposing the record invalidates handles to the old page.
		victim.owner, victim.page = cur, page
		victim.gen++
		h = makeHandle(slot, victim.gen)
	} else {
		t.unpinLocked(slot)
	}

	t.transitions--
	if t.transitions == 0 {
		t.noTransitions.Broadcast(tid)
	}
	t.lock.Release(tid)

	if !evicted {
		t.evictFailures.Add(1)
		log.Warn("eviction failed", "victim_thread", prevOwner.ID(), "victim_page", prevPage, "thread", tid, "page", page)
		return InvalidHandle, ErrEvictFailed
	}

	t.evictions.Add(1)
	log.Debug("evicted frame", "victim_thread", prevOwner.ID(), "victim_page", prevPage, "thread", tid, "page", page)
	return h, nil
}
