// Package usermem copies data between kernel buffers and user address
// spaces. Accesses to invalid user addresses fail gracefully instead of
// halting the kernel.
package usermem

import (
	"gophervm/kernel"
)

// PhysBase is the first virtual address of kernel space. User accesses at
// or above it are rejected without touching the address space.
const PhysBase = uintptr(0xc0000000)

// ErrBadAddress is returned when a user buffer spans an invalid address.
var ErrBadAddress = &kernel.Error{Module: "usermem", Message: "bad user address"}

// Memory is a user address space that supports byte accesses which may
// fault.
type Memory interface {
	Load(virtAddr uintptr) (byte, *kernel.Error)
	Store(virtAddr uintptr, value byte) *kernel.Error
}

// ReadByte returns the byte at user address virtAddr, or -1 if the address
// is not a valid user address.
func ReadByte(mem Memory, virtAddr uintptr) int {
	if virtAddr >= PhysBase {
		return -1
	}

	value, err := mem.Load(virtAddr)
	if err != nil {
		return -1
	}

	return int(value)
}

// WriteByte writes value to user address virtAddr and returns false if the
// address is not a valid writable user address.
func WriteByte(mem Memory, virtAddr uintptr, value byte) bool {
	if virtAddr >= PhysBase {
		return false
	}

	return mem.Store(virtAddr, value) == nil
}

// CopyIn copies len(dst) bytes from user address virtAddr into dst. It stops
// at the first invalid address and returns the number of bytes copied.
func CopyIn(mem Memory, dst []byte, virtAddr uintptr) int {
	for i := range dst {
		value := ReadByte(mem, virtAddr+uintptr(i))
		if value < 0 {
			return i
		}
		dst[i] = byte(value)
	}

	return len(dst)
}

// CopyOut copies src to user address virtAddr. It stops at the first
// invalid address and returns the number of bytes copied.
func CopyOut(mem Memory, virtAddr uintptr, src []byte) int {
	for i, value := range src {
		if !WriteByte(mem, virtAddr+uintptr(i), value) {
			return i
		}
	}

	return len(src)
}

// ReadString reads a NUL-terminated string of at most maxLen bytes from
// user address virtAddr.
func ReadString(mem Memory, virtAddr uintptr, maxLen int) (string, *kernel.Error) {
	buf := make([]byte, 0, 32)
	for i := 0; i < maxLen; i++ {
		value := ReadByte(mem, virtAddr+uintptr(i))
		switch {
		case value < 0:
			return "", ErrBadAddress
		case value == 0:
			return string(buf), nil
		}
		buf = append(buf, byte(value))
	}

	return "", ErrBadAddress
}
