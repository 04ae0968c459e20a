package kernel

// Memset sets every byte of the supplied physical memory region to value.
// Instead of using a for loop, this function fills the first byte and then
// makes log2(len(region)) copy calls which is considerably faster for
// page-sized regions.
func Memset(region []byte, value byte) {
	if len(region) == 0 {
		return
	}

	region[0] = value
	for index := 1; index < len(region); index *= 2 {
		copy(region[index:], region[:index])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst and returns
// the number of copied bytes.
func Memcopy(src, dst []byte) int {
	return copy(dst, src)
}
