package segment

import "fmt"

// Prot is a page protection level.
type Prot int

const (
	ReadOnly Prot = iota
	ReadWrite
)

func (p Prot) String() string {
	switch p {
	case ReadOnly:
		return "READONLY"
	case ReadWrite:
		return "READWRITE"
	}
	return fmt.Sprintf("Prot(%d)", int(p))
}

// Protector changes the page protection of a byte range. The range must be
// page aligned.
type Protector interface {
	Protect(b []byte, p Prot) error
}

// Nop is a Protector that leaves memory as it is. Release configurations
// and tests without OS support bind it.
type Nop struct{}

func (Nop) Protect(b []byte, p Prot) error { return nil }

// Recorder is a Protector that remembers the calls made to it and forwards
// them to Next, if set.
type Recorder struct {
	Next  Protector
	Calls []ProtectCall
}

// ProtectCall is one recorded Protect call.
type ProtectCall struct {
	Base uintptr
	Len  int
	Prot Prot
}

func (r *Recorder) Protect(b []byte, p Prot) error {
	var base uintptr
	if len(b) > 0 {
		base = sliceBase(b)
	}
	r.Calls = append(r.Calls, ProtectCall{Base: base, Len: len(b), Prot: p})
	if r.Next == nil {
		return nil
	}
	return r.Next.Protect(b, p)
}
