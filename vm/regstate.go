package vm

// ---------------------------------------------------------------------------
// RegState: whether the canonical registers match reality
// ---------------------------------------------------------------------------

// RegState records whether the canonical Registers of a thread reflect the
// real execution state (RegClean) or must be resynchronized from native code
// before anyone reads them (RegDirty).
type RegState uint8

const (
	RegClean RegState = iota
	RegDirty
)

func (s RegState) String() string {
	switch s {
	case RegClean:
		return "CLEAN"
	case RegDirty:
		return "DIRTY"
	}
	return "RegState(?)"
}

// ---------------------------------------------------------------------------
// Registers: the canonical {pc, fp, sp} bundle
// ---------------------------------------------------------------------------

// Registers is the in-memory view of the VM registers. Compiled code keeps
// the same values in machine registers while it runs; the copy here is only
// meaningful while the owning thread's RegState is RegClean.
type Registers struct {
	PC PC      // current bytecode position
	FP *ActRec // current activation record
	SP Addr    // operand stack top
}
