package vm

// ActRecSlots is the number of operand stack slots an ActRec occupies.
const ActRecSlots = 3

// CallStack pushes and pops activation records on a Stack and keeps the
// static caller links that frame-local register sync relies on.
type CallStack struct {
	stack *Stack
	fp    *ActRec
	depth int
}

// NewCallStack creates an empty call stack over s.
func NewCallStack(s *Stack) *CallStack {
	return &CallStack{stack: s}
}

// Current returns the innermost activation, or nil.
func (c *CallStack) Current() *ActRec { return c.fp }

// Depth returns the number of live activations.
func (c *CallStack) Depth() int { return c.depth }

// Push enters fn with numArgs arguments. The record is laid out above its
// argument slots, and the caller is the current activation. soff is the
// caller-relative offset of the call site; it is ignored for entry frames.
func (c *CallStack) Push(fn *Func, numArgs int, soff Offset) *ActRec {
	addr := c.stack.Alloc(ActRecSlots)
	c.stack.Alloc(numArgs)
	ar := NewActRec(fn, addr, numArgs, soff, c.fp)
	c.fp = ar
	c.depth++
	return ar
}

// Resume re-enters a suspended computation of fn from the current frame.
// The resumed record does not take stack space.
func (c *CallStack) Resume(fn *Func, soff Offset) *ActRec {
	ar := NewResumedActRec(fn, soff, c.fp)
	c.fp = ar
	c.depth++
	return ar
}

// Pop leaves the innermost activation and releases its stack slots.
func (c *CallStack) Pop() *ActRec {
	ar := c.fp
	assertf(ar != nil, "pop on empty call stack")
	if !ar.resumed {
		c.stack.Restore(ar.addr + Addr(ActRecSlots*c.stack.slotSize))
	}
	c.fp = ar.caller
	c.depth--
	return ar
}

// OuterFrame returns the frame that called ar.
func (c *CallStack) OuterFrame(ar *ActRec) *ActRec {
	return ar.caller
}
