// Package frame implements the frame table: the registry of every physical
// frame that currently backs a user page. The table selects eviction victims
// with the second-chance clock algorithm and coordinates evictions with
// concurrent page faults and address space teardown.
//
// All changes to the registry membership, the clock hand and the pinned flag
// of any record happen while holding the table lock. A pinned record cannot
// be selected for eviction or freed, so the thread that pinned it may read
// its owner fields and frame contents without holding the lock.
package frame

import (
	"sync/atomic"

	"gophervm/kernel"
	"gophervm/kernel/kfmt"
	"gophervm/kernel/mm"
	"gophervm/kernel/sync"
)

var (
	// ErrNoVictim is returned by Allocate when physical memory is
	// exhausted and every registered frame is pinned.
	ErrNoVictim = &kernel.Error{Module: "frame", Message: "no frame available for eviction"}

	// ErrEvictFailed is returned by Allocate when the eviction callback
	// could not release the selected victim.
	ErrEvictFailed = &kernel.Error{Module: "frame", Message: "frame eviction failed"}

	errAlreadyPinned = &kernel.Error{Module: "frame", Message: "frame is already pinned"}
	errNotPinned     = &kernel.Error{Module: "frame", Message: "frame is not pinned"}
	errUnpinLocked   = &kernel.Error{Module: "frame", Message: "unpin called while holding the frame table lock"}
	errInvalidHandle = &kernel.Error{Module: "frame", Message: "handle does not reference a registered frame"}
	errTableFull     = &kernel.Error{Module: "frame", Message: "frame table has no free record slots"}

	log = kfmt.Logger("frame")
)

// PageAllocator is the physical page allocator that hands out the frames
// tracked by the table.
type PageAllocator interface {
	// AllocFrame reserves a physical frame. It returns an error if no
	// free frame is available.
	AllocFrame(flags mm.AllocFlag) (mm.Frame, *kernel.Error)

	// FreeFrame returns a frame to the allocator.
	FreeFrame(frame mm.Frame) *kernel.Error

	// FrameBytes returns the physical memory backing a frame.
	FrameBytes(frame mm.Frame) []byte

	// FrameCount returns the number of frames available for user pages.
	FrameCount() uint32
}

// PageDirectory exposes the accessed bit that the MMU maintains for each
// mapped page.
type PageDirectory interface {
	IsAccessed(page mm.Page) bool
	ClearAccessed(page mm.Page)
}

// PageEntry is a per-thread page table entry. It holds a non-owning
// reference to the frame backing its page.
type PageEntry interface {
	Frame() Handle
	SetFrame(h Handle)
}

// Owner is a kernel thread whose pages are backed by frames.
type Owner interface {
	// ID returns a non-zero value that uniquely identifies the thread.
	ID() uint64

	// PageDirectory returns the page directory of the thread's address
	// space.
	PageDirectory() PageDirectory

	// VisitPages invokes visitFn for each entry of the thread's page table.
	VisitPages(visitFn func(PageEntry))
}

// EvictFn releases the frame referenced by h that backs page in the address
// space of owner, typically by writing its contents to the backing store and
// unmapping it. If no page entry of owner references h any more, the frame
// contents are unreachable and EvictFn reports success without touching the
// address space. It returns false if the page could not be evicted; in that
// case the mapping must be left unchanged. EvictFn is called without holding
// the table lock and may block.
type EvictFn func(owner Owner, page mm.Page, h Handle) bool

// Handle references a frame record. Handles embed a generation counter so
// a handle to a record that has since been freed or repurposed resolves to
// no frame instead of aliasing the record's new contents.
type Handle uint64

// InvalidHandle references no frame.
const InvalidHandle = Handle(0)

// Valid returns true if h is not InvalidHandle.
func (h Handle) Valid() bool {
	return h != InvalidHandle
}

func makeHandle(slot int32, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(uint32(slot)))
}

func (h Handle) slot() int32 {
	return int32(uint32(h))
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// sentinel is the slot of the list head. It never holds a record.
const sentinel = int32(0)

// record describes a physical frame that backs a user page.
type record struct {
	owner  Owner
	page   mm.Page
	frame  mm.Frame
	pinned bool

	gen        uint32
	inUse      bool
	prev, next int32
}

// Stats contains frame table counters.
type Stats struct {
	// Resident is the number of registered frames.
	Resident int64

	// FreshAllocs counts frames obtained directly from the allocator.
	FreshAllocs uint64

	// Evictions counts frames obtained by evicting another page.
	Evictions uint64

	// EvictFailures counts evictions rejected by the eviction callback.
	EvictFailures uint64
}

// Table is the frame table. The zero value is not usable; use NewTable.
type Table struct {
	lock          sync.Lock
	noTransitions *sync.Cond

	alloc   PageAllocator
	evictFn EvictFn

	// records is a fixed-size arena linked into a circular list in
	// insertion order; records[sentinel] is the list head. The arena
	// holds one slot per user frame so it is never reallocated.
	records   []record
	freeSlots []int32

	// hand is the slot of the record the clock algorithm inspected last.
	hand int32

	// transitions counts evictions whose callback is in progress.
	transitions int

	resident      atomic.Int64
	freshAllocs   atomic.Uint64
	evictions     atomic.Uint64
	evictFailures atomic.Uint64
}

// NewTable returns an empty frame table that registers frames obtained from
// alloc and reclaims frames through evictFn.
func NewTable(alloc PageAllocator, evictFn EvictFn) *Table {
	capacity := int32(alloc.FrameCount())

	t := &Table{
		alloc:     alloc,
		evictFn:   evictFn,
		records:   make([]record, capacity+1),
		freeSlots: make([]int32, 0, capacity),
		hand:      sentinel,
	}
	t.noTransitions = sync.NewCond(&t.lock)

	// Slots are popped from the end of the free list; push them in reverse
	// so that slot 1 is handed out first.
	for slot := capacity; slot > sentinel; slot-- {
		t.freeSlots = append(t.freeSlots, slot)
	}

	return t
}

// Frame returns the physical frame referenced by h. The caller must hold the
// frame pinned, which keeps the record from being removed or repurposed.
func (t *Table) Frame(h Handle) mm.Frame {
	slot := h.slot()
	if !h.Valid() || slot <= sentinel || int(slot) >= len(t.records) {
		kfmt.Panic(errInvalidHandle)
	}

	r := &t.records[slot]
	if !r.inUse || r.gen != h.generation() {
		kfmt.Panic(errInvalidHandle)
	}

	return r.frame
}

// Bytes returns the physical memory of the frame referenced by h. The
// caller must hold the frame pinned.
func (t *Table) Bytes(h Handle) []byte {
	return t.alloc.FrameBytes(t.Frame(h))
}

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() Stats {
	return Stats{
		Resident:      t.resident.Load(),
		FreshAllocs:   t.freshAllocs.Load(),
		Evictions:     t.evictions.Load(),
		EvictFailures: t.evictFailures.Load(),
	}
}

// Record describes a registered frame.
type Record struct {
	Handle Handle
	Owner  Owner
	Page   mm.Page
	Frame  mm.Frame
	Pinned bool
}

// Records returns the registered frames in clock order.
func (t *Table) Records(cur Owner) []Record {
	tid := cur.ID()
	t.lock.Acquire(tid)
	defer t.lock.Release(tid)

	var list []Record
	for slot := t.records[sentinel].next; slot != sentinel; slot = t.records[slot].next {
		r := &t.records[slot]
		list = append(list, Record{
			Handle: makeHandle(slot, r.gen),
			Owner:  r.owner,
			Page:   r.page,
			Frame:  r.frame,
			Pinned: r.pinned,
		})
	}

	return list
}

// insertLocked registers a pinned record at the tail of the list and returns
// a handle to it.
func (t *Table) insertLocked(owner Owner, page mm.Page, frame mm.Frame) Handle {
	n := len(t.freeSlots)
	if n == 0 {
		kfmt.Panic(errTableFull)
	}

	slot := t.freeSlots[n-1]
	t.freeSlots = t.freeSlots[:n-1]

	r := &t.records[slot]
	r.owner, r.page, r.frame, r.pinned = owner, page, frame, true
	r.inUse = true
	r.gen++

	tail := t.records[sentinel].prev
	r.prev, r.next = tail, sentinel
	t.records[tail].next = slot
	t.records[sentinel].prev = slot

	t.resident.Add(1)
	return makeHandle(slot, r.gen)
}

// removeLocked unregisters a record and releases its physical frame. If the
// clock hand references the record, the hand is advanced before the record
// is unlinked.
func (t *Table) removeLocked(slot int32) {
	r := &t.records[slot]
	if t.hand == slot {
		t.hand = r.next
	}

	t.records[r.prev].next = r.next
	t.records[r.next].prev = r.prev

	frame := r.frame
	*r = record{gen: r.gen}
	t.freeSlots = append(t.freeSlots, slot)
	t.resident.Add(-1)

	if err := t.alloc.FreeFrame(frame); err != nil {
		kfmt.Panic(err)
	}
}

// resolveLocked returns the slot referenced by h if h references a
// registered record.
func (t *Table) resolveLocked(h Handle) (int32, bool) {
	slot := h.slot()
	if !h.Valid() || slot <= sentinel || int(slot) >= len(t.records) {
		return sentinel, false
	}

	r := &t.records[slot]
	return slot, r.inUse && r.gen == h.generation()
}

// pinLocked marks a record as ineligible for eviction.
func (t *Table) pinLocked(slot int32) {
	r := &t.records[slot]
	if r.pinned {
		kfmt.Panic(errAlreadyPinned)
	}
	r.pinned = true
}

// unpinLocked makes a record eligible for eviction again.
func (t *Table) unpinLocked(slot int32) {
	r := &t.records[slot]
	if !r.pinned {
		kfmt.Panic(errNotPinned)
	}
	r.pinned = false
}
