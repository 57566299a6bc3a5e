package vm

import "fmt"

// Addr is an address in the operand stack's address space.
type Addr uintptr

func (a Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// DefaultSlotSize is the size in bytes of one operand stack slot.
const DefaultSlotSize = 16

// Stack is the operand stack address range of one thread. It grows down
// from High towards Low; every address is a whole number of slots from Low.
type Stack struct {
	low      Addr
	high     Addr
	slotSize int
	top      Addr
}

// NewStack creates a stack of the given number of slots starting at low.
func NewStack(low Addr, slots, slotSize int) *Stack {
	assertf(slots > 0, "stack needs at least one slot, got %d", slots)
	assertf(slotSize > 0, "slot size must be positive, got %d", slotSize)
	high := low + Addr(slots*slotSize)
	return &Stack{low: low, high: high, slotSize: slotSize, top: high}
}

// Low returns the lowest valid address.
func (s *Stack) Low() Addr { return s.low }

// High returns the address of an empty stack's top.
func (s *Stack) High() Addr { return s.high }

// SlotSize returns the size of one slot in bytes.
func (s *Stack) SlotSize() int { return s.slotSize }

// Top returns the current top of stack.
func (s *Stack) Top() Addr { return s.top }

// IsValidAddress reports whether a lies within the stack, inclusive of the
// empty-stack top.
func (s *Stack) IsValidAddress(a Addr) bool {
	return a >= s.low && a <= s.high
}

// Below returns the address n slots below a. Arguments of a call live in the
// n slots directly below its ActRec, so Below(ar.Addr(), ar.NumArgs()) is the
// stack top at the moment the callee was entered.
//
// The result wraps around rather than failing; callers validate it with
// IsValidAddress.
func (s *Stack) Below(a Addr, n int) Addr {
	return a - Addr(n*s.slotSize)
}

// SlotIndex returns the slot number of a, counted from Low.
func (s *Stack) SlotIndex(a Addr) int {
	assertf(s.IsValidAddress(a), "address %s outside stack [%s, %s]", a, s.low, s.high)
	return int(a-s.low) / s.slotSize
}

// Alloc pushes n slots and returns the new top.
func (s *Stack) Alloc(n int) Addr {
	top := s.Below(s.top, n)
	assertf(n >= 0 && s.IsValidAddress(top) && top <= s.top,
		"stack overflow: %d slots from %s", n, s.top)
	s.top = top
	return top
}

// Restore resets the top of stack to a previously returned address.
func (s *Stack) Restore(top Addr) {
	assertf(s.IsValidAddress(top), "restore to %s outside stack", top)
	s.top = top
}
