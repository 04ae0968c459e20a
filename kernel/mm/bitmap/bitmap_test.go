package bitmap

import "testing"

func TestBitmapReserve(t *testing.T) {
	specs := []struct {
		size uint32
	}{
		{1},
		{63},
		{64},
		{65},
		{200},
	}

	for specIndex, spec := range specs {
		b := New(spec.size)

		for exp := uint32(0); exp < spec.size; exp++ {
			got, ok := b.Reserve()
			if !ok {
				t.Fatalf("[spec %d] expected Reserve to succeed for block %d", specIndex, exp)
			}
			if got != exp {
				t.Fatalf("[spec %d] expected Reserve to return block %d; got %d", specIndex, exp, got)
			}
		}

		if _, ok := b.Reserve(); ok {
			t.Errorf("[spec %d] expected Reserve to fail when all %d blocks are used", specIndex, spec.size)
		}

		if b.Used() != spec.size {
			t.Errorf("[spec %d] expected used count %d; got %d", specIndex, spec.size, b.Used())
		}
	}
}

func TestBitmapSetClear(t *testing.T) {
	b := New(130)

	if !b.Set(129) {
		t.Fatal("expected Set to reserve block 129")
	}

	if b.Set(129) {
		t.Fatal("expected Set to fail for an already reserved block")
	}

	if b.Set(130) {
		t.Fatal("expected Set to fail for an out of range block")
	}

	if !b.IsSet(129) || b.IsSet(128) {
		t.Fatal("expected only block 129 to be reserved")
	}

	if !b.Clear(129) {
		t.Fatal("expected Clear to free block 129")
	}

	if b.Clear(129) {
		t.Fatal("expected Clear to fail for a free block")
	}

	// Freed blocks are handed out again first-fit.
	for i := uint32(0); i < 70; i++ {
		b.Reserve()
	}
	b.Clear(3)
	b.Clear(66)
	if got, _ := b.Reserve(); got != 3 {
		t.Fatalf("expected Reserve to return the lowest free block 3; got %d", got)
	}
	if got, _ := b.Reserve(); got != 66 {
		t.Fatalf("expected Reserve to return the lowest free block 66; got %d", got)
	}
}
