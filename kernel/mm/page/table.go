// Package page implements demand paging for user address spaces: the
// supplemental page table of each address space and the pager that resolves
// page faults and evicts pages to the swap device.
package page

import (
	gosync "sync"
	"sync/atomic"

	"gophervm/kernel"
	"gophervm/kernel/mm"
	"gophervm/kernel/mm/frame"
	"gophervm/kernel/mm/swap"
)

var errAlreadyReserved = &kernel.Error{Module: "page", Message: "page is already reserved"}

// Entry describes a reserved user page. The page contents live in a frame,
// in a swap slot, or nowhere yet in which case the first fault produces a
// zeroed page. A page loaded from swap keeps its slot while resident so it
// can be evicted again without rewriting it unless it was modified.
type Entry struct {
	// mu serializes faults, evictions and release of the page.
	mu gosync.Mutex

	page     mm.Page
	writable bool

	// frame is a non-owning reference to the frame that holds the page.
	frame atomic.Uint64

	// The following fields are protected by mu.
	slot swap.Slot
	dead bool
}

// Page returns the virtual page described by the entry.
func (e *Entry) Page() mm.Page {
	return e.page
}

// Writable returns true if the page may be written to.
func (e *Entry) Writable() bool {
	return e.writable
}

// Frame implements frame.PageEntry.
func (e *Entry) Frame() frame.Handle {
	return frame.Handle(e.frame.Load())
}

// SetFrame implements frame.PageEntry.
func (e *Entry) SetFrame(h frame.Handle) {
	e.frame.Store(uint64(h))
}

// Swapped returns true if the page is not resident and its contents are
// stored in a swap slot.
func (e *Entry) Swapped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slot.Valid() && !e.Frame().Valid()
}

// Table is the supplemental page table of an address space.
type Table struct {
	mu      gosync.RWMutex
	entries map[mm.Page]*Entry
}

// NewTable returns an empty page table.
func NewTable() *Table {
	return &Table{entries: make(map[mm.Page]*Entry)}
}

// Reserve adds an entry for page. The page is not backed by memory until it
// is first accessed.
func (t *Table) Reserve(page mm.Page, writable bool) (*Entry, *kernel.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[page]; exists {
		return nil, errAlreadyReserved
	}

	e := &Entry{page: page, writable: writable, slot: swap.InvalidSlot}
	t.entries[page] = e
	return e, nil
}

// Lookup returns the entry for page.
func (t *Table) Lookup(page mm.Page) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[page]
	return e, ok
}

// Remove deletes the entry for page and returns it.
func (t *Table) Remove(page mm.Page) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[page]
	if ok {
		delete(t.entries, page)
	}
	return e, ok
}

// Visit invokes visitFn for each entry. visitFn must not modify the table.
func (t *Table) Visit(visitFn func(*Entry)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		visitFn(e)
	}
}

// Len returns the number of reserved pages.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
