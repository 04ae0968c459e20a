package swap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gophervm/kernel"
	"gophervm/kernel/mm"
)

func pageFilledWith(value byte) []byte {
	page := make([]byte, mm.PageSize)
	kernel.Memset(page, value)
	return page
}

func TestNewDevice(t *testing.T) {
	if _, err := NewDevice(new(Memory), 0); err != errNoSlots {
		t.Fatalf("expected error %v; got %v", errNoSlots, err)
	}

	dev, err := NewDevice(new(Memory), 4)
	if err != nil {
		t.Fatal(err)
	}

	if got := dev.SlotCount(); got != 4 {
		t.Fatalf("expected 4 slots; got %d", got)
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	specs := []struct {
		descr   string
		backing func(t *testing.T) Backing
	}{
		{"memory", func(*testing.T) Backing { return new(Memory) }},
		{"file", func(t *testing.T) Backing {
			f, err := os.Create(filepath.Join(t.TempDir(), "swap.img"))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = f.Close() })
			return f
		}},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			dev, err := NewDevice(spec.backing(t), 3)
			if err != nil {
				t.Fatal(err)
			}

			var slots []Slot
			for value := byte(1); value <= 3; value++ {
				slot, err := dev.Out(pageFilledWith(value))
				if err != nil {
					t.Fatal(err)
				}
				slots = append(slots, slot)
			}

			if _, err := dev.Out(pageFilledWith(4)); err != errSwapFull {
				t.Fatalf("expected error %v; got %v", errSwapFull, err)
			}

			buf := make([]byte, mm.PageSize)
			for i, slot := range slots {
				if err := dev.In(slot, buf); err != nil {
					t.Fatal(err)
				}

				for offset, got := range buf {
					if exp := byte(i + 1); got != exp {
						t.Fatalf("[slot %d] expected byte %d to be %d; got %d", slot, offset, exp, got)
					}
				}
			}

			if err := dev.Free(slots[1]); err != nil {
				t.Fatal(err)
			}

			if got := dev.UsedCount(); got != 2 {
				t.Fatalf("expected 2 used slots; got %d", got)
			}

			slot, err := dev.Out(pageFilledWith(9))
			if err != nil {
				t.Fatal(err)
			}
			if slot != slots[1] {
				t.Fatalf("expected freed slot %d to be reused; got %d", slots[1], slot)
			}
		})
	}
}

func TestDeviceErrors(t *testing.T) {
	dev, err := NewDevice(new(Memory), 2)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, mm.PageSize)

	specs := []struct {
		descr  string
		fn     func() *kernel.Error
		expErr *kernel.Error
	}{
		{"out short page", func() *kernel.Error { _, err := dev.Out(buf[:10]); return err }, errBadPageSize},
		{"in short page", func() *kernel.Error { return dev.In(0, buf[:10]) }, errBadPageSize},
		{"in free slot", func() *kernel.Error { return dev.In(0, buf) }, errSlotNotInUse},
		{"in invalid slot", func() *kernel.Error { return dev.In(InvalidSlot, buf) }, errInvalidSlot},
		{"in out of range slot", func() *kernel.Error { return dev.In(2, buf) }, errInvalidSlot},
		{"overwrite short page", func() *kernel.Error { return dev.Overwrite(0, buf[:10]) }, errBadPageSize},
		{"overwrite free slot", func() *kernel.Error { return dev.Overwrite(0, buf) }, errSlotNotInUse},
		{"overwrite invalid slot", func() *kernel.Error { return dev.Overwrite(InvalidSlot, buf) }, errInvalidSlot},
		{"free free slot", func() *kernel.Error { return dev.Free(1) }, errSlotNotInUse},
		{"free out of range slot", func() *kernel.Error { return dev.Free(7) }, errInvalidSlot},
	}

	for specIndex, spec := range specs {
		if err := spec.fn(); err != spec.expErr {
			t.Errorf("[spec %d] %s: expected error %v; got %v", specIndex, spec.descr, spec.expErr, err)
		}
	}
}

func TestDeviceOverwrite(t *testing.T) {
	dev, err := NewDevice(new(Memory), 2)
	if err != nil {
		t.Fatal(err)
	}

	slot, err := dev.Out(pageFilledWith(1))
	if err != nil {
		t.Fatal(err)
	}

	if err = dev.Overwrite(slot, pageFilledWith(2)); err != nil {
		t.Fatal(err)
	}

	if got := dev.UsedCount(); got != 1 {
		t.Fatalf("expected Overwrite to reuse the slot; got %d used", got)
	}

	buf := make([]byte, mm.PageSize)
	if err = dev.In(slot, buf); err != nil {
		t.Fatal(err)
	}

	for i, b := range buf {
		if b != 2 {
			t.Fatalf("expected byte %d to be 2; got %d", i, b)
		}
	}
}

type failingBacking struct{ Memory }

func (*failingBacking) WriteAt([]byte, int64) (int, error) {
	return 0, errors.New("device not ready")
}

func TestDeviceWriteFailure(t *testing.T) {
	dev, err := NewDevice(new(failingBacking), 1)
	if err != nil {
		t.Fatal(err)
	}

	slot, kerr := dev.Out(pageFilledWith(1))
	if kerr == nil || kerr.Message != "device not ready" {
		t.Fatalf("expected the backing error to be reported; got %v", kerr)
	}

	if slot.Valid() {
		t.Fatal("expected an invalid slot")
	}

	if got := dev.UsedCount(); got != 0 {
		t.Fatalf("expected the reserved slot to be released; got %d used", got)
	}

	dev.used.Reserve()
	if kerr = dev.Overwrite(0, pageFilledWith(1)); kerr == nil || kerr.Message != "device not ready" {
		t.Fatalf("expected the backing error to be reported by Overwrite; got %v", kerr)
	}
}

func TestMemoryReadUnwritten(t *testing.T) {
	var m Memory
	if _, err := m.WriteAt([]byte{1, 2}, 4); err != nil {
		t.Fatal(err)
	}

	buf := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	if _, err := m.ReadAt(buf, 2); err != nil {
		t.Fatal(err)
	}

	exp := []byte{0, 0, 1, 2, 0, 0, 0, 0}
	for i := range exp {
		if buf[i] != exp[i] {
			t.Fatalf("expected %v; got %v", exp, buf)
		}
	}
}
