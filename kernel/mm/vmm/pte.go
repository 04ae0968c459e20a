package vmm

import (
	"sync/atomic"

	"gophervm/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the MMU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the MMU when this page is modified.
	FlagDirty
)

// ptePhysPageMask extracts the physical frame address encoded in a page
// table entry.
const ptePhysPageMask = ^uintptr(mm.PageSize - 1)

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. Flags may be set by the MMU
// while the kernel inspects the entry so all reads and updates are atomic.
type pageTableEntry uintptr

func (pte *pageTableEntry) load() uintptr {
	return atomic.LoadUintptr((*uintptr)(pte))
}

// HasFlags returns true if this entry has all the input flags set.
func (pte *pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (pte.load() & uintptr(flags)) == uintptr(flags)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	for {
		old := pte.load()
		if atomic.CompareAndSwapUintptr((*uintptr)(pte), old, old|uintptr(flags)) {
			return
		}
	}
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	for {
		old := pte.load()
		if atomic.CompareAndSwapUintptr((*uintptr)(pte), old, old&^uintptr(flags)) {
			return
		}
	}
}

// Flags returns the flag bits of this entry.
func (pte *pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(pte.load() &^ ptePhysPageMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte *pageTableEntry) Frame() mm.Frame {
	return mm.Frame((pte.load() & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	for {
		old := pte.load()
		if atomic.CompareAndSwapUintptr((*uintptr)(pte), old, (old&^ptePhysPageMask)|frame.Address()) {
			return
		}
	}
}
