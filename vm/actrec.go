package vm

import "fmt"

// ---------------------------------------------------------------------------
// ActRec: static call linkage of one activation
// ---------------------------------------------------------------------------

// ActRec is an activation record as seen by the register code: who is
// running, how many arguments were passed, and where the caller will resume.
// Everything is read-only once the record has been pushed.
type ActRec struct {
	fn      *Func
	numArgs int
	soff    Offset  // caller's resume offset, relative to caller's Func base
	resumed bool    // suspended computation living outside the stack
	addr    Addr    // position of the record on the operand stack
	caller  *ActRec // statically linked caller (saved frame pointer)
}

// NewActRec describes an ordinary (non-resumed) activation of fn whose
// record sits at addr, with numArgs argument slots directly below it.
// caller is the frame that made the call and soff is the offset, relative
// to caller's Func base, at which the call was made.
func NewActRec(fn *Func, addr Addr, numArgs int, soff Offset, caller *ActRec) *ActRec {
	assertf(numArgs >= 0, "negative argument count %d", numArgs)
	return &ActRec{fn: fn, numArgs: numArgs, soff: soff, addr: addr, caller: caller}
}

// NewResumedActRec describes a resumed activation (generator or async body).
// Its record lives off the operand stack, so it has no meaningful address.
func NewResumedActRec(fn *Func, soff Offset, caller *ActRec) *ActRec {
	return &ActRec{fn: fn, soff: soff, resumed: true, caller: caller}
}

// Func returns the function this activation is running.
func (ar *ActRec) Func() *Func { return ar.fn }

// NumArgs returns the number of arguments passed.
func (ar *ActRec) NumArgs() int { return ar.numArgs }

// SavedOffset returns the caller-relative offset of the call site.
func (ar *ActRec) SavedOffset() Offset { return ar.soff }

// Resumed reports whether this is a resumed (suspended) activation.
func (ar *ActRec) Resumed() bool { return ar.resumed }

// Addr returns the record's operand stack address.
func (ar *ActRec) Addr() Addr { return ar.addr }

// Caller returns the statically linked caller, or nil for an entry frame.
func (ar *ActRec) Caller() *ActRec { return ar.caller }

func (ar *ActRec) String() string {
	name := "<nil>"
	if ar.fn != nil {
		name = ar.fn.Name
	}
	if ar.resumed {
		return fmt.Sprintf("%s(resumed)", name)
	}
	return fmt.Sprintf("%s@%#x/%d", name, uintptr(ar.addr), ar.numArgs)
}
