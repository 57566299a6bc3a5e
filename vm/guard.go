package vm

import (
	"github.com/chazu/vmregs/segment"
)

// ---------------------------------------------------------------------------
// UnusedGuard: make VM state unusable while code must not touch it
// ---------------------------------------------------------------------------
//
// While an UnusedGuard is held the thread's request segment is swapped for a
// throwaway one whose mutable pages are read-only, and the registers are
// forced dirty. Reading registers then fails the RegState check, and any
// write into request state faults. Guards exist only in debug builds; with
// -tags release they are inert.

// UnusedGuard asserts that the VM registers and request segment are unused
// for its lifetime.
type UnusedGuard struct {
	tc     *ThreadContext
	saved  GuardState
	active bool
}

// AssertUnused protects the thread until Release. A thread with no bound
// segment gets an inert guard that touches nothing. Only the outermost guard
// becomes the thread's top-level guard; nested guards protect again on top
// of it.
func (tc *ThreadContext) AssertUnused() *UnusedGuard {
	g := &UnusedGuard{tc: tc}
	if !debugBuild {
		return g
	}
	tc.checkOwner()
	if tc.segments.Handle() == nil {
		return g
	}
	g.saved = tc.GuardState()
	g.active = true
	if tc.topGuard == nil {
		tc.topGuard = g
	}
	tc.guards = append(tc.guards, g)
	tc.protect()
	return g
}

// Saved returns the state the guard restores on release.
func (g *UnusedGuard) Saved() GuardState { return g.saved }

// Release restores the exact state the guard found.
func (g *UnusedGuard) Release() {
	if !debugBuild || !g.active {
		return
	}
	g.active = false
	for i := len(g.tc.guards) - 1; i >= 0; i-- {
		if g.tc.guards[i] == g {
			g.tc.guards = append(g.tc.guards[:i], g.tc.guards[i+1:]...)
			break
		}
	}
	if g.tc.topGuard == g {
		g.tc.topGuard = nil
	}
	g.tc.deprotect(g.saved)
}

// ReleaseGuards releases every guard still held on the thread, innermost
// first, and returns how many there were. A disabler left in place is
// undone first so each guard finds the segment it protected. Afterwards the
// thread is back in the state its top-level guard saved.
func (tc *ThreadContext) ReleaseGuards() int {
	n := len(tc.guards)
	if n == 0 {
		return 0
	}
	tc.checkOwner()
	if !tc.protected {
		tc.protect()
	}
	for len(tc.guards) > 0 {
		tc.guards[len(tc.guards)-1].Release()
	}
	log.Debugf("released %d stray guards", n)
	return n
}

// TopGuard returns the thread's top-level guard, or nil.
func (tc *ThreadContext) TopGuard() *UnusedGuard { return tc.topGuard }

// GuardDisabler temporarily restores real VM access inside a guard.
type GuardDisabler struct {
	tc     *ThreadContext
	active bool
}

// DisableUnusedGuard lifts the top-level guard's protection until Release.
// It does nothing when no guard is active or protection is already lifted,
// which is what lets disablers nest. Disablers must be released before the
// guard they sit in.
func (tc *ThreadContext) DisableUnusedGuard() *GuardDisabler {
	d := &GuardDisabler{tc: tc}
	if !debugBuild {
		return d
	}
	tc.checkOwner()
	if top := tc.topGuard; top != nil && tc.protected {
		tc.deprotect(top.saved)
		d.active = true
	}
	return d
}

// Release re-protects the thread.
func (d *GuardDisabler) Release() {
	if !debugBuild || !d.active {
		return
	}
	d.active = false
	if d.tc.topGuard != nil {
		d.tc.protect()
	}
}

func (tc *ThreadContext) protect() {
	tc.segments.Unbind()
	tc.regState = RegDirty
	tc.protected = true

	mustf(tc.segments.ThreadInit(), "map throwaway segment")
	seg := tc.segments.Handle()

	// Generation numbers in the normal region may still be read; nothing may
	// write there while the guard is up.
	mustf(tc.Protector.Protect(seg.Normal(), segment.ReadOnly),
		"protect %d bytes at %#x", len(seg.Normal()), seg.Base())
	log.Debugf("protected: throwaway segment %#x, %d bytes read-only", seg.Base(), len(seg.Normal()))
}

func (tc *ThreadContext) deprotect(s GuardState) {
	mustf(tc.segments.ThreadExit(), "unmap throwaway segment")

	tc.protected = s.Protected
	tc.regState = s.RegState
	tc.segments.Bind(s.Segment)
	log.Debugf("deprotected: restored segment %#x, registers %s", s.Segment.Base(), s.RegState)
}
