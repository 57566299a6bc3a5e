package vm

// ---------------------------------------------------------------------------
// RegAnchor: scoped register synchronization
// ---------------------------------------------------------------------------

// RegAnchor keeps a thread's registers clean for as long as it is held.
// Release restores the RegState that was current when the anchor was taken,
// so anchors nest. Writes made to the registers while the anchor was held
// stay in place.
//
//	a := tc.SyncRegs()
//	defer a.Release()
//	fp := a.Regs().FP
type RegAnchor struct {
	tc       *ThreadContext
	old      RegState
	released bool
}

// SyncRegs takes a full-sync anchor. If the registers are dirty, the
// thread's RegSyncer reads them back from native state. This works no
// matter how control got here. Whenever a syncer is installed the native
// stack pointer it reports must be aligned, clean or not.
func (tc *ThreadContext) SyncRegs() *RegAnchor {
	tc.checkOwner()
	a := &RegAnchor{tc: tc, old: tc.regState}
	if tc.Syncer != nil {
		sp := tc.Syncer.NativeStackPointer()
		assertf(sp%NativeStackAlign == 0, "native stack %#x not %d-byte aligned", sp, NativeStackAlign)
	}
	if tc.regState == RegClean {
		return a
	}
	assertf(tc.Syncer != nil, "dirty registers with no syncer installed")
	tc.regs = tc.Syncer.SyncVMRegs(tc.stack)
	tc.regState = RegClean
	return a
}

// SyncRegsFromFrame takes a frame-local anchor: the registers are rebuilt as
// if control had just entered ar from its caller, using only ar's static
// linkage. The registers must be dirty and ar must not be a resumed frame.
func (tc *ThreadContext) SyncRegsFromFrame(ar *ActRec) *RegAnchor {
	tc.checkOwner()
	assertf(tc.regState == RegDirty, "frame-local sync with %s registers", tc.regState)
	assertf(!ar.Resumed(), "frame-local sync of resumed frame %s", ar)
	a := &RegAnchor{tc: tc, old: tc.regState}

	prev := tc.Linker.OuterFrame(ar)
	assertf(prev != nil, "frame-local sync of entry frame %s", ar)
	prevF := prev.Func()

	sp := tc.stack.Below(ar.Addr(), ar.NumArgs())
	assertf(tc.stack.IsValidAddress(sp), "stack top %s of %s outside [%s, %s]",
		sp, ar, tc.stack.Low(), tc.stack.High())

	tc.regs = Registers{
		PC: prevF.Unit().At(prevF.Base() + ar.SavedOffset()),
		FP: prev,
		SP: sp,
	}
	tc.regState = RegClean
	return a
}

// Regs returns the canonical registers for update.
func (a *RegAnchor) Regs() *Registers {
	assertf(!a.released, "register write through a released anchor")
	assertf(a.tc.regState == RegClean, "register write while %s", a.tc.regState)
	return &a.tc.regs
}

// Release restores the state the anchor found. It is safe to call twice.
func (a *RegAnchor) Release() {
	if a.released {
		return
	}
	a.released = true
	a.tc.regState = a.old
}

// WithSyncedRegs runs fn under a full-sync anchor and releases it on every
// exit path.
func (tc *ThreadContext) WithSyncedRegs(fn func(regs *Registers)) {
	a := tc.SyncRegs()
	defer a.Release()
	fn(a.Regs())
}
