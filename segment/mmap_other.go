//go:build !unix

package segment

import (
	"errors"
	"unsafe"
)

func pageSize() int {
	return 4096
}

func mapAnon(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmap(b []byte) error {
	return nil
}

func sliceBase(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// Mprotect is unavailable on this platform; use Nop.
type Mprotect struct{}

func (Mprotect) Protect(b []byte, p Prot) error {
	return errors.New("segment: page protection not supported on this platform")
}
