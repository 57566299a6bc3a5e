// Package segment manages the request-scoped memory segment of an execution
// thread: a private mapping split into a mutable normal region, reset for
// every request, followed by a persistent region that outlives requests.
package segment

import (
	"fmt"
	"unsafe"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("vmregs.segment")

// Default region sizes used when a Layout leaves them zero.
const (
	DefaultNormalSize     = 64 * 1024
	DefaultPersistentSize = 16 * 1024
)

// Layout describes the sizes of a segment's two regions.
type Layout struct {
	NormalSize     int `toml:"normal-size"`
	PersistentSize int `toml:"persistent-size"`
}

// Normalize fills in defaults and rounds both regions up to whole pages, so
// the normal region can be protected on its own.
func (l Layout) Normalize() Layout {
	if l.NormalSize <= 0 {
		l.NormalSize = DefaultNormalSize
	}
	if l.PersistentSize <= 0 {
		l.PersistentSize = DefaultPersistentSize
	}
	ps := pageSize()
	l.NormalSize = roundUp(l.NormalSize, ps)
	l.PersistentSize = roundUp(l.PersistentSize, ps)
	return l
}

func roundUp(n, to int) int {
	return (n + to - 1) / to * to
}

// Segment is one mapping. Every thread maps its own, so changing the
// protection of one never affects another thread.
type Segment struct {
	mem      []byte
	boundary int
}

// Map creates a new segment with the given layout.
func Map(l Layout) (*Segment, error) {
	l = l.Normalize()
	mem, err := mapAnon(l.NormalSize + l.PersistentSize)
	if err != nil {
		return nil, fmt.Errorf("segment: map %d bytes: %w", l.NormalSize+l.PersistentSize, err)
	}
	s := &Segment{mem: mem, boundary: l.NormalSize}
	log.Debugf("mapped segment %#x (%d normal, %d persistent)", s.Base(), l.NormalSize, l.PersistentSize)
	return s, nil
}

// Base returns the address of the first byte, or 0 for a nil or unmapped
// segment.
func (s *Segment) Base() uintptr {
	if s == nil || len(s.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s.mem[0]))
}

// Len returns the size of the mapping.
func (s *Segment) Len() int { return len(s.mem) }

// PersistentBoundary returns the offset at which the persistent region
// starts. Everything before it is per-request state.
func (s *Segment) PersistentBoundary() int { return s.boundary }

// Normal returns the mutable per-request region.
func (s *Segment) Normal() []byte {
	return s.mem[:s.boundary:s.boundary]
}

// Persistent returns the region that survives across requests.
func (s *Segment) Persistent() []byte {
	return s.mem[s.boundary:]
}

// ResetNormal zeroes the per-request region.
func (s *Segment) ResetNormal() {
	clear(s.mem[:s.boundary])
}

// Unmap releases the mapping. The segment must not be used afterwards.
func (s *Segment) Unmap() error {
	if s.mem == nil {
		return nil
	}
	base := s.Base()
	if err := unmap(s.mem); err != nil {
		return fmt.Errorf("segment: unmap %#x: %w", base, err)
	}
	s.mem = nil
	log.Debugf("unmapped segment %#x", base)
	return nil
}
