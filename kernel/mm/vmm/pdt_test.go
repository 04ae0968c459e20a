package vmm

import (
	"testing"

	"gophervm/kernel/mm"
)

func TestPageDirectoryMapUnmap(t *testing.T) {
	pd := NewPageDirectory()

	pd.Map(mm.Page(1), mm.Frame(7), FlagRW|FlagUserAccessible)

	if !pd.IsMapped(mm.Page(1)) {
		t.Fatal("expected page 1 to be mapped")
	}

	if pd.hasFlags(mm.Page(1), FlagDirty) || pd.IsAccessed(mm.Page(1)) {
		t.Fatal("expected a fresh mapping to start with clear accessed and dirty bits")
	}

	var gotPhysAddr uintptr
	if err := pd.Access(0x1abc, false, func(physAddr uintptr) { gotPhysAddr = physAddr }); err != nil {
		t.Fatal(err)
	}

	if exp := mm.Frame(7).Address() + 0xabc; gotPhysAddr != exp {
		t.Fatalf("expected access to physical address 0x%x; got 0x%x", exp, gotPhysAddr)
	}

	flags, err := pd.Unmap(mm.Page(1))
	if err != nil {
		t.Fatal(err)
	}

	if !flags.hasAll(FlagPresent | FlagRW | FlagUserAccessible | FlagAccessed) {
		t.Fatalf("expected unmapped entry flags to include present|rw|user|accessed; got %x", flags)
	}

	if err = pd.Access(0x1abc, false, func(uintptr) {}); err != ErrInvalidMapping {
		t.Fatalf("expected error %v after Unmap; got %v", ErrInvalidMapping, err)
	}

	if _, err = pd.Unmap(mm.Page(1)); err != ErrInvalidMapping {
		t.Fatalf("expected error %v when unmapping twice; got %v", ErrInvalidMapping, err)
	}
}

func TestPageDirectoryRestoreMapping(t *testing.T) {
	pd := NewPageDirectory()
	pd.Map(mm.Page(3), mm.Frame(2), FlagRW)

	if err := pd.Access(0x3000, true, func(uintptr) {}); err != nil {
		t.Fatal(err)
	}

	flags, err := pd.Unmap(mm.Page(3))
	if err != nil {
		t.Fatal(err)
	}

	if !flags.hasAll(FlagAccessed | FlagDirty) {
		t.Fatalf("expected a written page to be accessed and dirty; got %x", flags)
	}

	// Restoring the mapping keeps the dirty bit so the modification is not lost.
	pd.Map(mm.Page(3), mm.Frame(2), flags)
	if !pd.hasFlags(mm.Page(3), FlagDirty|FlagAccessed|FlagRW) {
		t.Fatal("expected the restored mapping to keep its flags")
	}
}

func TestPageDirectoryAccess(t *testing.T) {
	pd := NewPageDirectory()
	pd.Map(mm.Page(2), mm.Frame(3), FlagUserAccessible)
	pd.Map(mm.Page(4), mm.Frame(5), FlagRW|FlagUserAccessible)

	specs := []struct {
		virtAddr    uintptr
		write       bool
		expErr      error
		expAccessed bool
		expDirty    bool
		expPhysAddr uintptr
	}{
		{0x2010, false, nil, true, false, mm.Frame(3).Address() + 0x10},
		{0x2010, true, ErrProtectionViolation, false, false, 0},
		{0x4ff0, true, nil, true, true, mm.Frame(5).Address() + 0xff0},
		{0x9000, false, ErrInvalidMapping, false, false, 0},
	}

	for specIndex, spec := range specs {
		page := mm.PageFromAddress(spec.virtAddr)
		pd.ClearAccessed(page)

		var gotPhysAddr uintptr
		err := pd.Access(spec.virtAddr, spec.write, func(physAddr uintptr) {
			gotPhysAddr = physAddr
		})

		if spec.expErr != nil {
			if err != spec.expErr {
				t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			}
			continue
		} else if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if gotPhysAddr != spec.expPhysAddr {
			t.Errorf("[spec %d] expected physical address 0x%x; got 0x%x", specIndex, spec.expPhysAddr, gotPhysAddr)
		}

		if got := pd.IsAccessed(page); got != spec.expAccessed {
			t.Errorf("[spec %d] expected accessed bit %t; got %t", specIndex, spec.expAccessed, got)
		}

		if got := pd.hasFlags(page, FlagDirty); got != spec.expDirty {
			t.Errorf("[spec %d] expected dirty bit %t; got %t", specIndex, spec.expDirty, got)
		}
	}
}

func TestPageDirectoryAccessedBit(t *testing.T) {
	pd := NewPageDirectory()
	page := mm.Page(8)

	// Accessed bit operations on unmapped pages are no-ops.
	pd.ClearAccessed(page)
	if pd.IsAccessed(page) {
		t.Fatal("expected unmapped page to report a clear accessed bit")
	}

	pd.Map(page, mm.Frame(1), FlagRW|FlagAccessed)
	if !pd.IsAccessed(page) {
		t.Fatal("expected accessed bit to be set")
	}

	pd.ClearAccessed(page)
	if pd.IsAccessed(page) {
		t.Fatal("expected accessed bit to be cleared")
	}

	pd.Destroy()
	if pd.IsMapped(page) {
		t.Fatal("expected Destroy to remove all mappings")
	}
}

func (f PageTableEntryFlag) hasAll(flags PageTableEntryFlag) bool {
	return f&flags == flags
}
