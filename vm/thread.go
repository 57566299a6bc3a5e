package vm

import (
	"github.com/petermattis/goid"
	"github.com/tliron/commonlog"

	"github.com/chazu/vmregs/segment"
)

var log = commonlog.GetLogger("vmregs.vm")

// NativeStackAlign is the alignment the native stack pointer must have when
// compiled code calls into register synchronization.
const NativeStackAlign = 16

// RegSyncer reads the VM registers back out of wherever compiled code left
// them. It is implemented by the JIT.
type RegSyncer interface {
	// NativeStackPointer returns the native stack pointer at the call-out.
	NativeStackPointer() uintptr
	// SyncVMRegs returns the canonical registers for the current call-out.
	SyncVMRegs(stack *Stack) Registers
}

// FrameLinker finds the caller of an activation.
type FrameLinker interface {
	OuterFrame(ar *ActRec) *ActRec
}

// ---------------------------------------------------------------------------
// ThreadContext: per-thread register state
// ---------------------------------------------------------------------------

// ThreadContext holds everything the register protocol keeps per execution
// thread: the RegState flag, the canonical Registers, the bound request
// segment, and the guard bookkeeping. A ThreadContext belongs to the
// goroutine that created it; nothing in it is synchronized.
type ThreadContext struct {
	// Syncer performs full register syncs. Interpreter-only threads may
	// leave it nil as long as they never mark registers dirty.
	Syncer RegSyncer

	// Linker resolves callers for frame-local syncs. Defaults to Frames().
	Linker FrameLinker

	// Protector changes page protection of guarded segments.
	Protector segment.Protector

	regState  RegState
	regs      Registers
	stack     *Stack
	frames    *CallStack
	segments  *segment.Slot
	protected bool
	topGuard  *UnusedGuard
	guards    []*UnusedGuard // active guards, outermost first
	owner     int64
}

// NewThreadContext creates the register state for the calling goroutine.
// segments may be nil for threads without a request segment; such threads
// get inert guards.
func NewThreadContext(stack *Stack, segments *segment.Slot) *ThreadContext {
	if segments == nil {
		segments = segment.NewSlot(segment.Layout{})
	}
	frames := NewCallStack(stack)
	tc := &ThreadContext{
		Linker:    frames,
		Protector: segment.Mprotect{},
		regState:  RegClean,
		regs:      Registers{SP: stack.Top()},
		stack:     stack,
		frames:    frames,
		segments:  segments,
		owner:     goid.Get(),
	}
	return tc
}

// Stack returns the thread's operand stack.
func (tc *ThreadContext) Stack() *Stack { return tc.stack }

// Frames returns the thread's call stack.
func (tc *ThreadContext) Frames() *CallStack { return tc.frames }

// Segments returns the thread's segment slot.
func (tc *ThreadContext) Segments() *segment.Slot { return tc.segments }

// RegState returns the current register state.
func (tc *ThreadContext) RegState() RegState { return tc.regState }

// IsClean reports whether the canonical registers can be read.
func (tc *ThreadContext) IsClean() bool { return tc.regState == RegClean }

// MarkDirty records that compiled code has left the canonical registers
// stale. Compiled-code call-outs do this before entering the runtime.
func (tc *ThreadContext) MarkDirty() {
	tc.checkOwner()
	tc.regState = RegDirty
}

// Regs returns the canonical registers. The registers must be clean.
func (tc *ThreadContext) Regs() Registers {
	tc.checkOwner()
	assertf(tc.regState == RegClean, "VM registers read while %s", tc.regState)
	return tc.regs
}

// Protected reports whether an UnusedGuard currently protects the thread.
func (tc *ThreadContext) Protected() bool { return tc.protected }

// GuardState is the triple an UnusedGuard saves and restores.
type GuardState struct {
	Segment   *segment.Segment
	RegState  RegState
	Protected bool
}

// GuardState returns the current guard triple.
func (tc *ThreadContext) GuardState() GuardState {
	return GuardState{
		Segment:   tc.segments.Handle(),
		RegState:  tc.regState,
		Protected: tc.protected,
	}
}

// checkOwner asserts, in debug builds, that the context is used from the
// goroutine that created it.
func (tc *ThreadContext) checkOwner() {
	if !debugBuild {
		return
	}
	if id := goid.Get(); id != tc.owner {
		assertf(false, "thread context of goroutine %d used from goroutine %d", tc.owner, id)
	}
}
