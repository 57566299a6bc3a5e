// Package jit holds the compiled-code side of VM register synchronization:
// the fixup map recorded at every call-out from translated code, the machine
// state compiled code leaves behind, and the syncer that turns the two back
// into canonical VM registers.
package jit

import (
	"fmt"

	"github.com/chazu/vmregs/vm"
)

// TCA is an address in the translation cache: the return address of a
// call-out from compiled code.
type TCA uint64

func (t TCA) String() string {
	return fmt.Sprintf("tca:%#x", uint64(t))
}

// Fixup tells the syncer how to recover the VM registers at one call-out.
// PCOffset is relative to the frame's Func base; SPOffset is the number of
// stack slots between the frame's ActRec and the stack top.
type Fixup struct {
	PCOffset vm.Offset `cbor:"1,keyasint"`
	SPOffset int       `cbor:"2,keyasint"`
}

// FixupMap maps call-out return addresses to their fixups. Each thread's
// syncer reads it; it is filled when code is translated.
type FixupMap struct {
	fixups map[TCA]Fixup
}

// NewFixupMap creates an empty map.
func NewFixupMap() *FixupMap {
	return &FixupMap{fixups: make(map[TCA]Fixup)}
}

// Record registers the fixup for a call-out at tca, replacing any earlier one.
func (m *FixupMap) Record(tca TCA, f Fixup) {
	m.fixups[tca] = f
}

// Lookup returns the fixup for tca.
func (m *FixupMap) Lookup(tca TCA) (Fixup, bool) {
	f, ok := m.fixups[tca]
	return f, ok
}

// Len returns the number of recorded call-outs.
func (m *FixupMap) Len() int {
	return len(m.fixups)
}
