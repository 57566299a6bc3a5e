// Package vm holds the per-thread VM register state and the protocol that
// keeps it consistent with compiled code.
//
// This package contains:
//   - The canonical registers (PC, FP, SP) and their CLEAN/DIRTY flag
//   - Operand stack address arithmetic and the activation record chain
//   - RegAnchor, which syncs registers for a scope (full or frame-local)
//   - UnusedGuard and GuardDisabler, debug-build checks that VM state is
//     not touched where it must not be
//
// A ThreadContext belongs to the goroutine that created it. Workers lock
// that goroutine to its OS thread so page protection and thread CPU timers
// apply to one thread only.
package vm
