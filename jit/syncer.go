package jit

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/vmregs/vm"
)

var log = commonlog.GetLogger("vmregs.jit")

// MachineState is what compiled code leaves in machine registers when it
// calls out to the runtime: the VM frame it was running, the return address
// of the call-out, and the native stack pointer.
type MachineState struct {
	FP      *vm.ActRec
	RetAddr TCA
	SP      uintptr
}

// Syncer recovers canonical VM registers from machine state using the
// fixup recorded for the call-out. It implements vm.RegSyncer. One Syncer
// serves one thread.
type Syncer struct {
	Fixups   *FixupMap
	Machine  MachineState
	Counters *Counters // nil disables timing
}

// NewSyncer creates a syncer over fixups.
func NewSyncer(fixups *FixupMap, counters *Counters) *Syncer {
	return &Syncer{Fixups: fixups, Counters: counters}
}

// CallOut records the machine state of a call-out from compiled code and
// marks the thread's registers dirty.
func (s *Syncer) CallOut(tc *vm.ThreadContext, fp *vm.ActRec, ret TCA, sp uintptr) {
	s.Machine = MachineState{FP: fp, RetAddr: ret, SP: sp}
	tc.MarkDirty()
}

// NativeStackPointer returns the stack pointer of the last call-out.
func (s *Syncer) NativeStackPointer() uintptr {
	return s.Machine.SP
}

// SyncVMRegs rebuilds the registers of the last call-out.
func (s *Syncer) SyncVMRegs(stack *vm.Stack) vm.Registers {
	t := s.Counters.Start(TimerSyncRegs)
	defer t.Stop()

	fp := s.Machine.FP
	if fp == nil {
		panic(&vm.AssertionError{Msg: "register sync with no compiled frame"})
	}
	fx, ok := s.Fixups.Lookup(s.Machine.RetAddr)
	if !ok {
		panic(&vm.AssertionError{Msg: fmt.Sprintf("no fixup for call-out at %s in %s", s.Machine.RetAddr, fp)})
	}
	fn := fp.Func()
	if fn.Base()+fx.PCOffset > fn.Past() {
		panic(&vm.AssertionError{Msg: fmt.Sprintf("fixup at %s puts pc %d past the end of %s", s.Machine.RetAddr, fx.PCOffset, fn.Name)})
	}
	regs := vm.Registers{
		PC: fn.Unit().At(fn.Base() + fx.PCOffset),
		FP: fp,
		SP: stack.Below(fp.Addr(), fx.SPOffset),
	}
	if !stack.IsValidAddress(regs.SP) {
		panic(&vm.AssertionError{Msg: fmt.Sprintf("fixup at %s puts stack top %s outside stack", s.Machine.RetAddr, regs.SP)})
	}
	log.Debugf("synced %s: pc=%s sp=%s", fp, regs.PC, regs.SP)
	return regs
}
