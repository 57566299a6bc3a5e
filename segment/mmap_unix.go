//go:build unix

package segment

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func pageSize() int {
	return unix.Getpagesize()
}

func mapAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}

func sliceBase(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// Mprotect is the Protector backed by mprotect(2).
type Mprotect struct{}

func (Mprotect) Protect(b []byte, p Prot) error {
	prot := unix.PROT_READ
	if p == ReadWrite {
		prot |= unix.PROT_WRITE
	}
	return unix.Mprotect(b, prot)
}
