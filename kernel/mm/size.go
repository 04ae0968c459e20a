package mm

import "strconv"

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// SizeOfPages returns the size of a block spanning count pages.
func SizeOfPages(count uint32) Size {
	return Size(count) * Size(PageSize)
}

// Pages returns the number of pages required to hold a block of this size.
func (s Size) Pages() uint32 {
	return uint32((uint64(s) + uint64(PageSize) - 1) >> PageShift)
}

// String formats the size using the largest unit that divides it evenly.
func (s Size) String() string {
	switch {
	case s == 0:
		return "0B"
	case s%Gb == 0:
		return strconv.FormatUint(uint64(s/Gb), 10) + "GB"
	case s%Mb == 0:
		return strconv.FormatUint(uint64(s/Mb), 10) + "MB"
	case s%Kb == 0:
		return strconv.FormatUint(uint64(s/Kb), 10) + "KB"
	default:
		return strconv.FormatUint(uint64(s), 10) + "B"
	}
}
