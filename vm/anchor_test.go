package vm

import (
	"strings"
	"testing"
)

// expectAssertion runs fn and fails the test unless it panics with an
// AssertionError whose message contains substr.
func expectAssertion(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		ae, ok := r.(*AssertionError)
		if !ok {
			t.Fatalf("expected assertion failure containing %q, got %v", substr, r)
		}
		if !strings.Contains(ae.Msg, substr) {
			t.Fatalf("assertion %q does not mention %q", ae.Msg, substr)
		}
	}()
	fn()
}

type fakeSyncer struct {
	sp    uintptr
	regs  Registers
	calls int
}

func (f *fakeSyncer) NativeStackPointer() uintptr { return f.sp }

func (f *fakeSyncer) SyncVMRegs(*Stack) Registers {
	f.calls++
	return f.regs
}

// twoLevelChain builds a caller whose Func starts at offset 100 and a callee
// at 0x1000 with two arguments, called from caller-relative offset 5.
func twoLevelChain() (*Unit, *ActRec, *ActRec) {
	unit := NewUnit("chain.src", make([]byte, 256))
	callerF := NewFunc("caller", unit, 100, 150)
	calleeF := NewFunc("callee", unit, 150, 200)
	caller := NewActRec(callerF, 0x1100, 0, 0, nil)
	ar := NewActRec(calleeF, 0x1000, 2, 5, caller)
	return unit, caller, ar
}

func TestFrameLocalSyncArithmetic(t *testing.T) {
	unit, caller, ar := twoLevelChain()
	tc := NewThreadContext(NewStack(0, 0x2000/8, 8), nil)
	tc.MarkDirty()

	a := tc.SyncRegsFromFrame(ar)
	regs := tc.Regs()

	if regs.PC != unit.At(105) {
		t.Errorf("pc = %v, want %v", regs.PC, unit.At(105))
	}
	if regs.SP != 0x0FF0 {
		t.Errorf("sp = %v, want 0xff0", regs.SP)
	}
	if regs.FP != caller {
		t.Errorf("fp = %v, want caller %v", regs.FP, caller)
	}

	a.Release()
	if tc.RegState() != RegDirty {
		t.Errorf("after release state = %v, want DIRTY", tc.RegState())
	}
}

func TestFrameLocalSyncRequiresDirty(t *testing.T) {
	_, _, ar := twoLevelChain()
	tc := NewThreadContext(NewStack(0, 0x2000/8, 8), nil)

	expectAssertion(t, "CLEAN", func() {
		tc.SyncRegsFromFrame(ar)
	})
	if tc.RegState() != RegClean {
		t.Errorf("state = %v after rejected sync, want CLEAN", tc.RegState())
	}
}

func TestFrameLocalSyncRejectsResumedFrame(t *testing.T) {
	_, caller, _ := twoLevelChain()
	gen := NewResumedActRec(NewFunc("gen", caller.Func().Unit(), 200, 256), 3, caller)
	tc := NewThreadContext(NewStack(0, 0x2000/8, 8), nil)
	tc.MarkDirty()

	expectAssertion(t, "resumed", func() {
		tc.SyncRegsFromFrame(gen)
	})
	if tc.RegState() != RegDirty {
		t.Errorf("state = %v after rejected sync, want DIRTY", tc.RegState())
	}
}

func TestFrameLocalSyncRejectsCorruptStack(t *testing.T) {
	unit := NewUnit("corrupt.src", make([]byte, 64))
	caller := NewActRec(NewFunc("caller", unit, 0, 32), 0x40, 0, 0, nil)
	// Two argument slots below 0x8 wrap around the address space.
	ar := NewActRec(NewFunc("callee", unit, 32, 64), 0x8, 2, 1, caller)
	tc := NewThreadContext(NewStack(0, 16, 8), nil)
	tc.MarkDirty()

	expectAssertion(t, "outside", func() {
		tc.SyncRegsFromFrame(ar)
	})
}

func TestFrameLocalSyncRejectsEntryFrame(t *testing.T) {
	_, caller, _ := twoLevelChain()
	tc := NewThreadContext(NewStack(0, 0x2000/8, 8), nil)
	tc.MarkDirty()

	expectAssertion(t, "entry frame", func() {
		tc.SyncRegsFromFrame(caller)
	})
}

func TestFrameLocalSyncUsesLinker(t *testing.T) {
	unit := NewUnit("linked.src", make([]byte, 64))
	s := NewStack(0x1000, 64, 16)
	tc := NewThreadContext(s, nil)
	frames := tc.Frames()

	mainF := NewFunc("main", unit, 0, 20)
	helperF := NewFunc("helper", unit, 20, 64)
	main := frames.Push(mainF, 0, 0)
	helper := frames.Push(helperF, 3, 7)

	tc.MarkDirty()
	a := tc.SyncRegsFromFrame(helper)
	defer a.Release()

	regs := tc.Regs()
	if regs.FP != main {
		t.Errorf("fp = %v, want %v", regs.FP, main)
	}
	if regs.PC != unit.At(7) {
		t.Errorf("pc = %v, want %v", regs.PC, unit.At(7))
	}
	if regs.SP != s.Top() {
		t.Errorf("sp = %v, want stack top %v after pushing args", regs.SP, s.Top())
	}
}

func TestFullSyncNestingRestoresFlag(t *testing.T) {
	syncer := &fakeSyncer{sp: 0x7fff0000}
	tc := NewThreadContext(NewStack(0, 64, 8), nil)
	tc.Syncer = syncer
	tc.MarkDirty()

	outer := tc.SyncRegs()
	if !tc.IsClean() {
		t.Fatal("outer anchor should leave registers clean")
	}
	inner := tc.SyncRegs()
	inner.Release()
	if tc.RegState() != RegClean {
		t.Errorf("after inner release state = %v, want CLEAN", tc.RegState())
	}
	outer.Release()
	if tc.RegState() != RegDirty {
		t.Errorf("after outer release state = %v, want DIRTY", tc.RegState())
	}
	if syncer.calls != 1 {
		t.Errorf("syncer called %d times, want 1", syncer.calls)
	}
}

func TestFullSyncWritesCanonicalRegisters(t *testing.T) {
	unit := NewUnit("full.src", make([]byte, 16))
	want := Registers{PC: unit.At(4), SP: 0x30}
	tc := NewThreadContext(NewStack(0, 8, 8), nil)
	tc.Syncer = &fakeSyncer{sp: 0x1000, regs: want}
	tc.MarkDirty()

	tc.WithSyncedRegs(func(regs *Registers) {
		if *regs != want {
			t.Errorf("regs = %+v, want %+v", *regs, want)
		}
	})
	if tc.RegState() != RegDirty {
		t.Errorf("state = %v, want DIRTY", tc.RegState())
	}
}

func TestFullSyncChecksNativeStackAlignment(t *testing.T) {
	tc := NewThreadContext(NewStack(0, 8, 8), nil)
	tc.Syncer = &fakeSyncer{sp: 0x1008}
	tc.MarkDirty()

	expectAssertion(t, "aligned", func() {
		tc.SyncRegs()
	})
}

func TestFullSyncChecksAlignmentWhenClean(t *testing.T) {
	syncer := &fakeSyncer{sp: 0x1004}
	tc := NewThreadContext(NewStack(0, 8, 8), nil)
	tc.Syncer = syncer

	expectAssertion(t, "aligned", func() {
		tc.SyncRegs()
	})
	if syncer.calls != 0 {
		t.Errorf("clean registers synced %d times", syncer.calls)
	}

	syncer.sp = 0x1000
	a := tc.SyncRegs()
	a.Release()
	if syncer.calls != 0 || !tc.IsClean() {
		t.Errorf("clean anchor: calls = %d, state = %v", syncer.calls, tc.RegState())
	}
}

func TestFullSyncWithoutSyncer(t *testing.T) {
	tc := NewThreadContext(NewStack(0, 8, 8), nil)
	tc.MarkDirty()

	expectAssertion(t, "no syncer", func() {
		tc.SyncRegs()
	})

	clean := NewThreadContext(NewStack(0, 8, 8), nil)
	a := clean.SyncRegs()
	a.Release()
	if !clean.IsClean() {
		t.Error("clean registers need no syncer")
	}
}

func TestRegsReadRequiresClean(t *testing.T) {
	tc := NewThreadContext(NewStack(0, 8, 8), nil)
	_ = tc.Regs()

	tc.MarkDirty()
	expectAssertion(t, "DIRTY", func() {
		tc.Regs()
	})
}

func TestAnchorWritesSurviveRelease(t *testing.T) {
	tc := NewThreadContext(NewStack(0, 8, 8), nil)
	a := tc.SyncRegs()
	a.Regs().SP = 0x20
	a.Release()
	a.Release()

	if got := tc.Regs().SP; got != 0x20 {
		t.Errorf("sp = %v, want 0x20", got)
	}
	expectAssertion(t, "released", func() {
		a.Regs()
	})
}

func TestWithSyncedRegsReleasesOnPanic(t *testing.T) {
	tc := NewThreadContext(NewStack(0, 8, 8), nil)
	tc.Syncer = &fakeSyncer{sp: 0x2000}
	tc.MarkDirty()

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("recovered %v, want boom", r)
			}
		}()
		tc.WithSyncedRegs(func(*Registers) {
			panic("boom")
		})
	}()

	if tc.RegState() != RegDirty {
		t.Errorf("state = %v after panic, want DIRTY", tc.RegState())
	}
}
