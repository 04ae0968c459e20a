// Package vmm implements the software page directory used by the hosted
// kernel. It plays the role of the MMU: it translates user pages to physical
// frames and maintains the per-page accessed and dirty bits that the frame
// eviction policy consults.
package vmm

import (
	"sync"

	"gophervm/kernel"
	"gophervm/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrProtectionViolation is returned when writing to a page that is not mapped with FlagRW.
	ErrProtectionViolation = &kernel.Error{Module: "vmm", Message: "write to read-only page"}
)

// PageDirectory maps the user pages of a single address space to physical
// frames. A PageDirectory is safe for concurrent use: the owning thread
// accesses its pages while other threads scan accessed bits or unmap pages
// they are evicting.
type PageDirectory struct {
	// mu guards the entries map. Entry flags are updated atomically so
	// flag updates only need a read lock.
	mu      sync.RWMutex
	entries map[mm.Page]*pageTableEntry
}

// NewPageDirectory returns an empty page directory.
func NewPageDirectory() *PageDirectory {
	return &PageDirectory{entries: make(map[mm.Page]*pageTableEntry)}
}

// Map establishes a mapping between a virtual page and a physical memory
// frame overwriting any previous mapping for the page. FlagPresent is
// implied. The accessed and dirty bits of the new mapping are taken from
// flags, which allows a mapping removed by Unmap to be restored as it was.
func (pd *PageDirectory) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) {
	pte := new(pageTableEntry)
	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent)

	pd.mu.Lock()
	pd.entries[page] = pte
	pd.mu.Unlock()
}

// Unmap removes a mapping previously installed via a call to Map and returns
// the flags of the removed entry so callers can inspect its dirty bit. Any
// access in progress through Access completes before Unmap returns.
func (pd *PageDirectory) Unmap(page mm.Page) (PageTableEntryFlag, *kernel.Error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	pte, ok := pd.entries[page]
	if !ok {
		return 0, ErrInvalidMapping
	}

	delete(pd.entries, page)
	return pte.Flags(), nil
}

// Access emulates an MMU access to virtAddr. It sets the accessed bit (and
// the dirty bit for writes) of the page and invokes accessFn with the
// translated physical address. The mapping cannot be removed while accessFn
// runs. Access returns ErrInvalidMapping if the page is not mapped and
// ErrProtectionViolation for writes to read-only pages; callers treat both
// as page faults.
func (pd *PageDirectory) Access(virtAddr uintptr, write bool, accessFn func(physAddr uintptr)) *kernel.Error {
	pd.mu.RLock()
	defer pd.mu.RUnlock()

	pte, ok := pd.entries[mm.PageFromAddress(virtAddr)]
	if !ok {
		return ErrInvalidMapping
	}

	if write && !pte.HasFlags(FlagRW) {
		return ErrProtectionViolation
	}

	if write {
		pte.SetFlags(FlagAccessed | FlagDirty)
	} else {
		pte.SetFlags(FlagAccessed)
	}

	accessFn(pte.Frame().Address() + mm.PageOffset(virtAddr))
	return nil
}

// IsAccessed returns true if the page is mapped and has been accessed since
// it was mapped or since its accessed bit was last cleared.
func (pd *PageDirectory) IsAccessed(page mm.Page) bool {
	return pd.hasFlags(page, FlagAccessed)
}

// ClearAccessed clears the accessed bit of a mapped page.
func (pd *PageDirectory) ClearAccessed(page mm.Page) {
	pd.mu.RLock()
	defer pd.mu.RUnlock()

	if pte, ok := pd.entries[page]; ok {
		pte.ClearFlags(FlagAccessed)
	}
}

// IsMapped returns true if the page is mapped.
func (pd *PageDirectory) IsMapped(page mm.Page) bool {
	return pd.hasFlags(page, FlagPresent)
}

// Destroy removes all mappings.
func (pd *PageDirectory) Destroy() {
	pd.mu.Lock()
	pd.entries = make(map[mm.Page]*pageTableEntry)
	pd.mu.Unlock()
}

func (pd *PageDirectory) hasFlags(page mm.Page, flags PageTableEntryFlag) bool {
	pd.mu.RLock()
	defer pd.mu.RUnlock()

	pte, ok := pd.entries[page]
	return ok && pte.HasFlags(flags)
}
