package jit

import "time"

// TimerName identifies one JIT timer.
type TimerName int

const (
	TimerSyncRegs TimerName = iota
	TimerFixupLoad
	TimerFixupSave
	numTimers
)

var timerNames = [numTimers]string{
	TimerSyncRegs:  "sync_vm_regs",
	TimerFixupLoad: "fixup_load",
	TimerFixupSave: "fixup_save",
}

func (n TimerName) String() string {
	if n < 0 || n >= numTimers {
		return "unknown"
	}
	return timerNames[n]
}

// Counter accumulates the thread CPU time spent in one timer.
type Counter struct {
	Total time.Duration
	Count int64
	Max   time.Duration
}

// Mean returns the average time per run.
func (c Counter) Mean() time.Duration {
	if c.Count == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Count)
}

// Counters holds one thread's timers. A nil *Counters is valid and times
// nothing.
type Counters struct {
	counters [numTimers]Counter
}

// NewCounters creates zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// Start begins timing name.
func (c *Counters) Start(name TimerName) *Timer {
	if c == nil {
		return &Timer{finished: true}
	}
	return &Timer{name: name, counters: c, start: threadCPUTime()}
}

// Value returns the counter for name.
func (c *Counters) Value(name TimerName) Counter {
	if c == nil {
		return Counter{}
	}
	return c.counters[name]
}

// NamedCounter pairs a counter with its timer name.
type NamedCounter struct {
	Name    string
	Counter Counter
}

// Snapshot returns every counter that has run at least once.
func (c *Counters) Snapshot() []NamedCounter {
	if c == nil {
		return nil
	}
	var out []NamedCounter
	for i, ctr := range c.counters {
		if ctr.Count == 0 {
			continue
		}
		out = append(out, NamedCounter{Name: TimerName(i).String(), Counter: ctr})
	}
	return out
}

// Reset zeroes all counters. Called at request start.
func (c *Counters) Reset() {
	if c == nil {
		return
	}
	c.counters = [numTimers]Counter{}
}

// Timer measures one run of a named timer.
type Timer struct {
	name     TimerName
	counters *Counters
	start    time.Duration
	finished bool
}

// Stop ends the run and returns its duration. Stopping twice is a no-op.
func (t *Timer) Stop() time.Duration {
	if t.finished {
		return 0
	}
	t.finished = true
	elapsed := threadCPUTime() - t.start
	ctr := &t.counters.counters[t.name]
	ctr.Total += elapsed
	ctr.Count++
	if elapsed > ctr.Max {
		ctr.Max = elapsed
	}
	return elapsed
}
