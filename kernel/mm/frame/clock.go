package frame

// clockNext advances the hand to the next record treating the record list as
// a circular list.
func (t *Table) clockNext() int32 {
	t.hand = t.records[t.hand].next
	if t.hand == sentinel {
		t.hand = t.records[sentinel].next
	}

	return t.hand
}

// selectVictimLocked runs the second-chance clock algorithm and returns the
// slot of a pinned victim or sentinel if every registered frame is pinned.
// The caller must hold the table lock.
//
// Starting after the hand, pinned records are skipped until an unpinned
// record is found; if the hand completes a revolution first there is no
// victim. From that record on, each unpinned record whose page has been
// accessed gets its accessed bit cleared and is passed over; the first
// unpinned record with a clear accessed bit is the victim. Pinned records
// are skipped without looking at their accessed bit. The scan stops after
// one revolution back at the first unpinned record, whose bit it cleared on
// the way, so a victim is always found within two revolutions.
func (t *Table) selectVictimLocked() int32 {
	if t.records[sentinel].next == sentinel {
		return sentinel
	}

	start := t.clockNext()
	slot := start
	for t.records[slot].pinned {
		if slot = t.clockNext(); slot == start {
			return sentinel
		}
	}

	for start = slot; ; {
		r := &t.records[slot]
		if !r.pinned {
			pd := r.owner.PageDirectory()
			if !pd.IsAccessed(r.page) {
				break
			}
			pd.ClearAccessed(r.page)
		}

		if slot = t.clockNext(); slot == start {
			break
		}
	}

	t.pinLocked(slot)
	return slot
}
