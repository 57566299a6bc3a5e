package vm

import "fmt"

// Offset is a bytecode offset relative to the start of a Unit.
type Offset int32

// Unit is a compiled bytecode unit (one source file's worth of functions).
type Unit struct {
	Path     string
	Bytecode []byte
}

// NewUnit creates a unit over the given bytecode.
func NewUnit(path string, bytecode []byte) *Unit {
	return &Unit{Path: path, Bytecode: bytecode}
}

// At returns the code address of off within the unit. An offset equal to
// len(Bytecode) is allowed and denotes the end of the unit.
func (u *Unit) At(off Offset) PC {
	assertf(off >= 0 && int(off) <= len(u.Bytecode),
		"offset %d outside unit %s (%d bytes)", off, u.Path, len(u.Bytecode))
	return PC{Unit: u, Off: off}
}

// PC is an absolute code address: a unit plus an offset into it.
type PC struct {
	Unit *Unit
	Off  Offset
}

func (pc PC) String() string {
	if pc.Unit == nil {
		return "<no pc>"
	}
	return fmt.Sprintf("%s@%d", pc.Unit.Path, pc.Off)
}

// Func is the static metadata of a function. Its bytecode lives in
// [Base, Past) of its unit.
type Func struct {
	Name string
	unit *Unit
	base Offset
	past Offset
}

// NewFunc creates function metadata for the bytecode range [base, past) of u.
func NewFunc(name string, u *Unit, base, past Offset) *Func {
	assertf(base <= past, "func %s: base %d past end %d", name, base, past)
	return &Func{Name: name, unit: u, base: base, past: past}
}

// Unit returns the unit containing the function.
func (f *Func) Unit() *Unit { return f.unit }

// Base returns the offset of the function's first instruction.
func (f *Func) Base() Offset { return f.base }

// Past returns the offset just past the function's last instruction.
func (f *Func) Past() Offset { return f.past }
