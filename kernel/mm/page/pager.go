package page

import (
	"gophervm/kernel"
	"gophervm/kernel/kfmt"
	"gophervm/kernel/mm"
	"gophervm/kernel/mm/frame"
	"gophervm/kernel/mm/swap"
	"gophervm/kernel/mm/vmm"
)

var (
	// ErrInvalidAccess is returned by Fault for addresses that do not
	// belong to a reserved page.
	ErrInvalidAccess = &kernel.Error{Module: "page", Message: "page fault on unreserved address"}

	log = kfmt.Logger("page")
)

// AddressSpace is a user address space whose pages are managed by a Pager.
type AddressSpace interface {
	frame.Owner

	// Directory returns the page directory that maps the address space.
	Directory() *vmm.PageDirectory

	// Pages returns the supplemental page table of the address space.
	Pages() *Table
}

// PhysicalMemory is the page allocator backing the pager.
type PhysicalMemory interface {
	frame.PageAllocator
}

// Pager resolves page faults by loading pages into frames and evicts pages
// to a swap device when physical memory runs out.
type Pager struct {
	mem    PhysicalMemory
	frames *frame.Table
	swap   *swap.Device
}

// NewPager returns a pager that allocates frames from mem and swaps pages
// out to dev.
func NewPager(mem PhysicalMemory, dev *swap.Device) *Pager {
	p := &Pager{mem: mem, swap: dev}
	p.frames = frame.NewTable(mem, p.evict)
	return p
}

// Frames returns the frame table of the pager.
func (p *Pager) Frames() *frame.Table {
	return p.frames
}

// Swap returns the swap device of the pager.
func (p *Pager) Swap() *swap.Device {
	return p.swap
}

// PhysBytes returns the physical memory from physAddr up to the end of its
// frame.
func (p *Pager) PhysBytes(physAddr uintptr) []byte {
	return p.mem.FrameBytes(mm.FrameFromAddress(physAddr))[mm.PageOffset(physAddr):]
}

// Fault makes the page containing virtAddr resident in the address space.
func (p *Pager) Fault(as AddressSpace, virtAddr uintptr) *kernel.Error {
	page := mm.PageFromAddress(virtAddr)
	e, ok := as.Pages().Lookup(page)
	if !ok {
		return ErrInvalidAccess
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return ErrInvalidAccess
	}

	// Another access to the page resolved the fault first.
	if e.Frame().Valid() {
		return nil
	}

	var allocFlags mm.AllocFlag
	if !e.slot.Valid() {
		allocFlags = mm.AllocZero
	}

	h, err := p.frames.Allocate(as, page, allocFlags)
	if err != nil {
		return err
	}

	if e.slot.Valid() {
		if err = p.swap.In(e.slot, p.frames.Bytes(h)); err != nil {
			kfmt.Panic(err)
		}
	}

	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if e.writable {
		flags |= vmm.FlagRW
	}
	as.Directory().Map(page, p.frames.Frame(h), flags)
	e.SetFrame(h)
	p.frames.Unpin(as, h)

	return nil
}

// evict unmaps a resident page and saves its contents to the swap device. A
// page that was not modified since it was loaded is not written again: its
// swap slot, if any, still holds its contents, and a page without a slot was
// never written since it was zero-filled. It is invoked by the frame table
// for the victim of an eviction.
func (p *Pager) evict(owner frame.Owner, page mm.Page, h frame.Handle) bool {
	as := owner.(AddressSpace)

	e, ok := as.Pages().Lookup(page)
	if !ok {
		// Released while the eviction was in progress.
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The page was released, and possibly reserved again, while the
	// eviction was in progress. No entry references the victim frame.
	if e.dead || e.Frame() != h {
		return true
	}

	pd := as.Directory()
	flags, err := pd.Unmap(page)
	if err != nil {
		log.Error("evicted page is not mapped", "thread", owner.ID(), "page", page, "err", err.Message)
		return false
	}

	if flags&vmm.FlagDirty != 0 {
		if err = p.writeOut(e, p.frames.Bytes(h)); err != nil {
			pd.Map(page, p.frames.Frame(h), flags)
			log.Warn("swap out failed", "thread", owner.ID(), "page", page, "err", err.Message)
			return false
		}
	}

	e.SetFrame(frame.InvalidHandle)
	return true
}

// writeOut stores the contents of a page in its swap slot, allocating a slot
// if the page does not have one yet. The caller must hold e.mu.
func (p *Pager) writeOut(e *Entry, data []byte) *kernel.Error {
	if e.slot.Valid() {
		return p.swap.Overwrite(e.slot, data)
	}

	slot, err := p.swap.Out(data)
	if err != nil {
		return err
	}

	e.slot = slot
	return nil
}

// Release unmaps a page and releases its frame and swap slot.
func (p *Pager) Release(as AddressSpace, page mm.Page) bool {
	e, ok := as.Pages().Remove(page)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dead = true
	if e.Frame().Valid() {
		_, _ = as.Directory().Unmap(page)

		// A pinned frame is being evicted; the eviction observes the dead
		// entry and hands the frame over without writing it out.
		p.frames.Free(as, e)
	}

	if e.slot.Valid() {
		if err := p.swap.Free(e.slot); err != nil {
			kfmt.Panic(err)
		}
		e.slot = swap.InvalidSlot
	}

	return true
}

// Destroy releases every frame and swap slot of an address space that is
// being torn down. It must be called by the thread that owns the address
// space.
func (p *Pager) Destroy(as AddressSpace) {
	p.frames.Clear(as)

	slots := 0
	as.Pages().Visit(func(e *Entry) {
		e.mu.Lock()
		e.dead = true
		if e.slot.Valid() {
			if err := p.swap.Free(e.slot); err != nil {
				kfmt.Panic(err)
			}
			e.slot = swap.InvalidSlot
			slots++
		}
		e.mu.Unlock()
	})

	as.Directory().Destroy()
	log.Debug("address space destroyed", "thread", as.ID(), "pages", as.Pages().Len(), "swap_slots", slots)
}
