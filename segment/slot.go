package segment

// Slot is a thread's binding to its current segment. It is owned by a single
// goroutine and is not synchronized.
type Slot struct {
	layout Layout
	cur    *Segment
}

// NewSlot creates an empty slot that maps segments with the given layout.
func NewSlot(l Layout) *Slot {
	return &Slot{layout: l.Normalize()}
}

// Handle returns the bound segment, or nil.
func (s *Slot) Handle() *Segment { return s.cur }

// Bind makes seg the thread's segment without mapping or unmapping anything.
func (s *Slot) Bind(seg *Segment) { s.cur = seg }

// Unbind forgets the bound segment without unmapping it.
func (s *Slot) Unbind() { s.cur = nil }

// ThreadInit maps and binds a fresh segment if none is bound.
func (s *Slot) ThreadInit() error {
	if s.cur != nil {
		return nil
	}
	seg, err := Map(s.layout)
	if err != nil {
		return err
	}
	s.cur = seg
	return nil
}

// ThreadExit unmaps and unbinds the bound segment, if any.
func (s *Slot) ThreadExit() error {
	if s.cur == nil {
		return nil
	}
	seg := s.cur
	s.cur = nil
	return seg.Unmap()
}
