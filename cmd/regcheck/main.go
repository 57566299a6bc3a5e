// regcheck - exercises VM register synchronization on a worker thread
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vmregs/config"
	"github.com/chazu/vmregs/jit"
	"github.com/chazu/vmregs/vm"
	"github.com/chazu/vmregs/worker"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	configDir := flag.String("config", ".", "Directory to search upwards for vmregs.toml")
	noGuard := flag.Bool("no-guard", false, "Leave guarded pages writable")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: regcheck [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs register sync and invalidity guard checks on a VM worker thread.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *noGuard {
		cfg.Guard.Enabled = false
	}

	verbosity := cfg.Log.Verbosity
	if *verbose && verbosity < 2 {
		verbosity = 2
	}
	var logPath *string
	if cfg.Log.Path != "" {
		logPath = &cfg.Log.Path
	}
	commonlog.Configure(verbosity, logPath)

	w, err := worker.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, c := range checks {
		if err := runCheck(w, c); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("ok   %s\n", c.name)
	}

	if err := w.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		failed++
	}
	if failed > 0 {
		os.Exit(1)
	}
}

type check struct {
	name string
	fn   func(*worker.Request) error
}

var checks = []check{
	{"frame-local sync", checkFrameLocal},
	{"full sync via fixup", checkFullSync},
	{"guard and disabler", checkGuard},
}

// runCheck turns a broken register contract into a failure instead of
// letting it take the process down.
func runCheck(w *worker.Worker, c check) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ae, ok := r.(*vm.AssertionError); ok {
				err = ae
				return
			}
			panic(r)
		}
	}()
	_, err = w.Do(func(r *worker.Request) (interface{}, error) {
		return nil, c.fn(r)
	})
	return err
}

// callChain pushes main -> callee, where main calls callee at offset 5
// with two arguments.
func callChain(tc *vm.ThreadContext) (unit *vm.Unit, main, callee *vm.ActRec) {
	unit = vm.NewUnit("regcheck", make([]byte, 64))
	main = tc.Frames().Push(vm.NewFunc("main", unit, 0, 32), 0, 0)
	callee = tc.Frames().Push(vm.NewFunc("callee", unit, 32, 64), 2, 5)
	return unit, main, callee
}

func popAll(tc *vm.ThreadContext) {
	for tc.Frames().Depth() > 0 {
		tc.Frames().Pop()
	}
}

func checkFrameLocal(r *worker.Request) error {
	tc := r.Thread
	defer popAll(tc)
	unit, main, callee := callChain(tc)

	tc.MarkDirty()
	a := tc.SyncRegsFromFrame(callee)
	defer a.Release()

	regs := a.Regs()
	if regs.FP != main {
		return fmt.Errorf("fp = %s, want %s", regs.FP, main)
	}
	if regs.PC != unit.At(5) {
		return fmt.Errorf("pc = %s, want %s", regs.PC, unit.At(5))
	}
	if want := tc.Stack().Below(callee.Addr(), 2); regs.SP != want {
		return fmt.Errorf("sp = %s, want %s", regs.SP, want)
	}
	return nil
}

func checkFullSync(r *worker.Request) error {
	tc := r.Thread
	defer popAll(tc)
	unit, _, callee := callChain(tc)

	const ret jit.TCA = 0xc0de0
	r.Syncer.Fixups.Record(ret, jit.Fixup{PCOffset: 7, SPOffset: 3})
	r.Syncer.CallOut(tc, callee, ret, 0x7ffff000)

	var regs vm.Registers
	tc.WithSyncedRegs(func(rr *vm.Registers) { regs = *rr })
	if regs.PC != unit.At(39) || regs.FP != callee {
		return fmt.Errorf("synced %s in %s, want %s in %s", regs.PC, regs.FP, unit.At(39), callee)
	}
	if tc.IsClean() {
		return fmt.Errorf("registers still clean after the anchor was released")
	}
	return nil
}

func checkGuard(r *worker.Request) error {
	tc := r.Thread
	live := tc.Segments().Handle()
	live.Persistent()[0] = 1

	g := tc.AssertUnused()
	if !tc.Protected() {
		// Release builds compile guards out.
		g.Release()
		return nil
	}
	if tc.Segments().Handle() == live {
		g.Release()
		return fmt.Errorf("guard left the request segment bound")
	}
	if tc.IsClean() {
		g.Release()
		return fmt.Errorf("guard left registers clean")
	}

	d := tc.DisableUnusedGuard()
	seen := tc.Segments().Handle().Persistent()[0]
	d.Release()
	g.Release()

	if seen != 1 {
		return fmt.Errorf("disabler did not restore the request segment")
	}
	if tc.Segments().Handle() != live || tc.Protected() {
		return fmt.Errorf("guard release did not restore the thread")
	}
	return nil
}
