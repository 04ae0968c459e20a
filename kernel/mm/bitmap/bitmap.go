// Package bitmap implements the used/free bitmaps that track physical frame
// and swap slot reservations.
package bitmap

import "math/bits"

// Bitmap tracks the reservation state of a fixed number of blocks. A set bit
// marks a reserved block. The zero value is an empty bitmap that tracks no
// blocks; use New to create one. Bitmap is not safe for concurrent use.
type Bitmap struct {
	words []uint64
	size  uint32
	used  uint32
}

// New returns a bitmap tracking size blocks, all of them free.
func New(size uint32) *Bitmap {
	// Round up the required bits so they are a multiple of 64.
	return &Bitmap{
		words: make([]uint64, (size+63)>>6),
		size:  size,
	}
}

// Size returns the number of blocks tracked by the bitmap.
func (b *Bitmap) Size() uint32 { return b.size }

// Used returns the number of reserved blocks.
func (b *Bitmap) Used() uint32 { return b.used }

// IsSet returns true if block index is reserved.
func (b *Bitmap) IsSet(index uint32) bool {
	return index < b.size && b.words[index>>6]&(1<<(index&63)) != 0
}

// Set flags block index as reserved. It returns false if the index is out
// of range or the block was already reserved.
func (b *Bitmap) Set(index uint32) bool {
	if index >= b.size || b.IsSet(index) {
		return false
	}

	b.words[index>>6] |= 1 << (index & 63)
	b.used++
	return true
}

// Clear flags block index as free. It returns false if the index is out of
// range or the block was not reserved.
func (b *Bitmap) Clear(index uint32) bool {
	if !b.IsSet(index) {
		return false
	}

	b.words[index>>6] &^= 1 << (index & 63)
	b.used--
	return true
}

// Reserve finds the first free block, flags it as reserved and returns its
// index. If all blocks are reserved, Reserve returns false.
func (b *Bitmap) Reserve() (uint32, bool) {
	if b.used == b.size {
		return 0, false
	}

	for wordIndex, word := range b.words {
		if word == ^uint64(0) {
			continue
		}

		index := uint32(wordIndex<<6) + uint32(bits.TrailingZeros64(^word))
		if index >= b.size {
			break
		}

		b.Set(index)
		return index, true
	}

	return 0, false
}
