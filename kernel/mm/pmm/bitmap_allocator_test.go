package pmm

import (
	"testing"

	"gophervm/kernel/mm"
)

func TestBitmapAllocatorInit(t *testing.T) {
	var alloc BitmapAllocator

	if err := alloc.Init(0, 4); err != errNoFrames {
		t.Fatalf("expected error %v; got %v", errNoFrames, err)
	}

	if err := alloc.Init(2, 4); err != nil {
		t.Fatal(err)
	}

	if exp, got := uint32(4), alloc.FrameCount(); got != exp {
		t.Fatalf("expected user pool to contain %d frames; got %d", exp, got)
	}

	if exp, got := 6*int(mm.PageSize), len(alloc.memory); got != exp {
		t.Fatalf("expected physical memory arena of %d bytes; got %d", exp, got)
	}
}

func TestBitmapAllocatorPools(t *testing.T) {
	var alloc BitmapAllocator
	if err := alloc.Init(2, 3); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		flags    mm.AllocFlag
		expFrame mm.Frame
	}{
		{0, 0},
		{mm.AllocUser, 2},
		{mm.AllocUser, 3},
		{0, 1},
		{mm.AllocUser | mm.AllocZero, 4},
	}

	for specIndex, spec := range specs {
		frame, err := alloc.AllocFrame(spec.flags)
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if frame != spec.expFrame {
			t.Errorf("[spec %d] expected frame %d; got %d", specIndex, spec.expFrame, frame)
		}
	}

	for _, flags := range []mm.AllocFlag{0, mm.AllocUser} {
		if frame, err := alloc.AllocFrame(flags); err != errOutOfMemory || frame.Valid() {
			t.Errorf("expected (InvalidFrame, %v) for exhausted pool with flags %d; got (%d, %v)", errOutOfMemory, flags, frame, err)
		}
	}

	if got := alloc.FreeCount(); got != 0 {
		t.Fatalf("expected no free user frames; got %d", got)
	}

	if err := alloc.FreeFrame(3); err != nil {
		t.Fatal(err)
	}

	if err := alloc.FreeFrame(3); err != errFrameNotAllocated {
		t.Fatalf("expected double free to return %v; got %v", errFrameNotAllocated, err)
	}

	if err := alloc.FreeFrame(42); err != errFrameOutOfRange {
		t.Fatalf("expected out of range free to return %v; got %v", errFrameOutOfRange, err)
	}

	if got := alloc.FreeCount(); got != 1 {
		t.Fatalf("expected 1 free user frame; got %d", got)
	}
}

func TestBitmapAllocatorZeroFill(t *testing.T) {
	var alloc BitmapAllocator
	if err := alloc.Init(1, 1); err != nil {
		t.Fatal(err)
	}

	frame, _ := alloc.AllocFrame(mm.AllocUser)
	contents := alloc.FrameBytes(frame)
	for i := range contents {
		contents[i] = 0xAA
	}

	// A frame allocated without AllocZero keeps its previous contents.
	alloc.FreeFrame(frame)
	frame, _ = alloc.AllocFrame(mm.AllocUser)
	if got := alloc.FrameBytes(frame)[0]; got != 0xAA {
		t.Fatalf("expected stale contents 0xAA; got 0x%x", got)
	}

	alloc.FreeFrame(frame)
	frame, _ = alloc.AllocFrame(mm.AllocUser | mm.AllocZero)
	for i, b := range alloc.FrameBytes(frame) {
		if b != 0 {
			t.Fatalf("expected zeroed frame; got byte 0x%x at index %d", b, i)
		}
	}
}
