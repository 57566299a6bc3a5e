// Package worker runs VM requests on a dedicated OS thread that owns one
// vm.ThreadContext.
package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"

	"github.com/chazu/vmregs/config"
	"github.com/chazu/vmregs/jit"
	"github.com/chazu/vmregs/segment"
	"github.com/chazu/vmregs/vm"
)

var log = commonlog.GetLogger("vmregs.worker")

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("worker: stopped")

// Request is the per-request view handed to functions run by the worker.
// Everything in it belongs to the worker's thread.
type Request struct {
	ID       uuid.UUID
	Thread   *vm.ThreadContext
	Syncer   *jit.Syncer
	Counters *jit.Counters // nil when timers are disabled
}

// request represents a unit of work to be executed on the worker thread.
type request struct {
	fn   func(*Request) (interface{}, error)
	done chan result
}

// result holds the return value from a request.
type result struct {
	value interface{}
	err   error
	fatal *vm.AssertionError
}

// thread is the state owned by the worker goroutine.
type thread struct {
	tc       *vm.ThreadContext
	syncer   *jit.Syncer
	counters *jit.Counters
}

// Worker serializes all access to one thread context through a single
// goroutine locked to its OS thread. Register state, segment mappings and
// page protection never leave that thread.
type Worker struct {
	cfg      *config.Config
	requests chan request
	quit     chan struct{}
	exited   chan struct{}
	ready    chan error
	stopped  chan error
	stopOnce sync.Once
	stopErr  error
}

// New starts a worker configured by cfg. It returns once the thread context
// and its segment are set up.
func New(cfg *config.Config) (*Worker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	w := &Worker{
		cfg:      cfg,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
		ready:    make(chan error, 1),
		stopped:  make(chan error, 1),
	}
	go w.loop()
	if err := <-w.ready; err != nil {
		return nil, err
	}
	return w, nil
}

// loop processes requests sequentially on the locked thread.
func (w *Worker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.exited)

	th, err := w.setup()
	w.ready <- err
	if err != nil {
		return
	}
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(th, req.fn)
		case <-w.quit:
			w.stopped <- w.teardown(th)
			return
		}
	}
}

func (w *Worker) setup() (*thread, error) {
	var counters *jit.Counters
	if w.cfg.JIT.Timers {
		counters = jit.NewCounters()
	}

	fixups := jit.NewFixupMap()
	if path := w.cfg.FixupsPath(); path != "" {
		m, err := jit.LoadFixupMap(path, counters)
		if err != nil {
			return nil, err
		}
		fixups = m
	}

	slot := segment.NewSlot(w.cfg.Segment)
	if err := slot.ThreadInit(); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	tc := vm.NewThreadContext(w.cfg.NewStack(), slot)
	tc.Protector = w.cfg.Protector()
	syncer := jit.NewSyncer(fixups, counters)
	tc.Syncer = syncer

	log.Infof("worker thread ready: segment %#x, stack [%s, %s]",
		slot.Handle().Base(), tc.Stack().Low(), tc.Stack().High())
	return &thread{tc: tc, syncer: syncer, counters: counters}, nil
}

// execute runs one request, recovering from panics.
func (w *Worker) execute(th *thread, fn func(*Request) (interface{}, error)) result {
	req := &Request{
		ID:       uuid.New(),
		Thread:   th.tc,
		Syncer:   th.syncer,
		Counters: th.counters,
	}
	th.counters.Reset()
	if seg := th.tc.Segments().Handle(); seg != nil && !th.tc.Protected() {
		seg.ResetNormal()
	}
	log.Debugf("request %s start", req.ID)

	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				if ae, ok := r.(*vm.AssertionError); ok {
					res.fatal = ae
					return
				}
				res.err = fmt.Errorf("request %s: %v", req.ID, r)
			}
		}()
		res.value, res.err = fn(req)
	}()

	// Guards a request leaves behind are unwound here so the next request
	// starts on the real, writable segment.
	n, err := unwindGuards(th.tc)
	if err != nil {
		res.fatal = &vm.AssertionError{Msg: fmt.Sprintf("request %s: %v", req.ID, err)}
	} else if n > 0 && res.fatal == nil {
		res.fatal = &vm.AssertionError{Msg: fmt.Sprintf("request %s left %d UnusedGuard(s) held", req.ID, n)}
	}
	log.Debugf("request %s done", req.ID)
	return res
}

// Do submits fn for execution on the worker thread and blocks until it
// completes. Ordinary panics come back as errors. A broken register
// contract (*vm.AssertionError) is re-raised on the caller's goroutine.
func (w *Worker) Do(fn func(*Request) (interface{}, error)) (interface{}, error) {
	req := request{
		fn:   fn,
		done: make(chan result, 1),
	}
	select {
	case w.requests <- req:
	case <-w.exited:
		return nil, ErrStopped
	}
	var res result
	select {
	case res = <-req.done:
	case <-w.exited:
		return nil, ErrStopped
	}
	if res.fatal != nil {
		panic(res.fatal)
	}
	return res.value, res.err
}

// Stop shuts down the worker and unmaps its segment.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.stopErr = <-w.stopped
	})
	return w.stopErr
}

// unwindGuards releases stray guards on tc. A failure while unwinding comes
// back as an error rather than killing the worker thread.
func unwindGuards(tc *vm.ThreadContext) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: unwinding guards: %v", r)
		}
	}()
	return tc.ReleaseGuards(), nil
}

func (w *Worker) teardown(th *thread) error {
	var errs error
	if n, err := unwindGuards(th.tc); err != nil {
		errs = multierror.Append(errs, err)
	} else if n > 0 {
		errs = multierror.Append(errs, fmt.Errorf("worker: stopped with %d UnusedGuard(s) held", n))
	}
	if th.tc.Protected() {
		errs = multierror.Append(errs, errors.New("worker: thread still protected at stop"))
	}
	if err := th.tc.Segments().ThreadExit(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, nc := range th.counters.Snapshot() {
		log.Debugf("timer %s: %d runs, %s total, %s max", nc.Name, nc.Counter.Count, nc.Counter.Total, nc.Counter.Max)
	}
	return errs
}
