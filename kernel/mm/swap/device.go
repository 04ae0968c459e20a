// Package swap implements the backing store for evicted user pages. A swap
// device is divided into page-sized slots that are tracked by a bitmap.
package swap

import (
	"io"
	"math"

	"gophervm/kernel"
	"gophervm/kernel/kfmt"
	"gophervm/kernel/mm"
	"gophervm/kernel/mm/bitmap"
	"gophervm/kernel/sync"
)

var (
	errNoSlots      = &kernel.Error{Module: "swap", Message: "swap device requires at least one slot"}
	errSwapFull     = &kernel.Error{Module: "swap", Message: "swap device is full"}
	errInvalidSlot  = &kernel.Error{Module: "swap", Message: "slot index out of range"}
	errSlotNotInUse = &kernel.Error{Module: "swap", Message: "slot is not in use"}
	errBadPageSize  = &kernel.Error{Module: "swap", Message: "buffer length must equal the page size"}

	log = kfmt.Logger("swap")
)

// Slot identifies a page-sized area of a swap device.
type Slot uint32

// InvalidSlot is returned by Out when the page could not be written.
const InvalidSlot = Slot(math.MaxUint32)

// Valid returns true if this is a valid slot.
func (s Slot) Valid() bool {
	return s != InvalidSlot
}

func (s Slot) offset() int64 {
	return int64(s) * int64(mm.PageSize)
}

// Backing is the storage behind a swap device, such as an *os.File.
type Backing interface {
	io.ReaderAt
	io.WriterAt
}

// Device is a swap device. It is safe for concurrent use; I/O on distinct
// slots proceeds without holding the device lock.
type Device struct {
	lock    sync.Spinlock
	backing Backing
	used    *bitmap.Bitmap
}

// NewDevice returns a swap device with slotCount slots stored in backing.
func NewDevice(backing Backing, slotCount uint32) (*Device, *kernel.Error) {
	if slotCount == 0 {
		return nil, errNoSlots
	}

	log.Info("swap device ready", "slots", slotCount, "size", mm.SizeOfPages(slotCount).String())
	return &Device{backing: backing, used: bitmap.New(slotCount)}, nil
}

// Out writes a page to a free slot and returns the slot.
func (d *Device) Out(page []byte) (Slot, *kernel.Error) {
	if uintptr(len(page)) != mm.PageSize {
		return InvalidSlot, errBadPageSize
	}

	d.lock.Acquire()
	index, ok := d.used.Reserve()
	d.lock.Release()
	if !ok {
		return InvalidSlot, errSwapFull
	}

	slot := Slot(index)
	if _, err := d.backing.WriteAt(page, slot.offset()); err != nil {
		d.lock.Acquire()
		d.used.Clear(index)
		d.lock.Release()
		return InvalidSlot, ioError(err)
	}

	return slot, nil
}

// In reads the page stored in slot into page. The slot remains in use until
// it is released with Free.
func (d *Device) In(slot Slot, page []byte) *kernel.Error {
	if uintptr(len(page)) != mm.PageSize {
		return errBadPageSize
	}

	if err := d.checkInUse(slot); err != nil {
		return err
	}

	if _, err := d.backing.ReadAt(page, slot.offset()); err != nil {
		return ioError(err)
	}

	return nil
}

// Overwrite replaces the page stored in a slot that is in use.
func (d *Device) Overwrite(slot Slot, page []byte) *kernel.Error {
	if uintptr(len(page)) != mm.PageSize {
		return errBadPageSize
	}

	if err := d.checkInUse(slot); err != nil {
		return err
	}

	if _, err := d.backing.WriteAt(page, slot.offset()); err != nil {
		return ioError(err)
	}

	return nil
}

// Free releases a slot.
func (d *Device) Free(slot Slot) *kernel.Error {
	if !slot.Valid() || uint32(slot) >= d.used.Size() {
		return errInvalidSlot
	}

	d.lock.Acquire()
	defer d.lock.Release()

	if !d.used.Clear(uint32(slot)) {
		return errSlotNotInUse
	}

	return nil
}

// SlotCount returns the number of slots of the device.
func (d *Device) SlotCount() uint32 {
	return d.used.Size()
}

// UsedCount returns the number of slots currently in use.
func (d *Device) UsedCount() uint32 {
	d.lock.Acquire()
	defer d.lock.Release()

	return d.used.Used()
}

func (d *Device) checkInUse(slot Slot) *kernel.Error {
	if !slot.Valid() || uint32(slot) >= d.used.Size() {
		return errInvalidSlot
	}

	d.lock.Acquire()
	defer d.lock.Release()

	if !d.used.IsSet(uint32(slot)) {
		return errSlotNotInUse
	}

	return nil
}

func ioError(err error) *kernel.Error {
	return &kernel.Error{Module: "swap", Message: err.Error()}
}
