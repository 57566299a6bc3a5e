package worker

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/vmregs/config"
	"github.com/chazu/vmregs/jit"
	"github.com/chazu/vmregs/vm"
)

func newTestWorker(t *testing.T, cfg *config.Config) *Worker {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
		cfg.Guard.Enabled = false
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestWorkerDo(t *testing.T) {
	w := newTestWorker(t, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		v, err := w.Do(func(r *Request) (interface{}, error) {
			ids = append(ids, r.ID.String())
			return r.Thread.Frames().Depth() + i, nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if v.(int) != i {
			t.Errorf("result = %v, want %d", v, i)
		}
	}
	if ids[0] == ids[1] || ids[1] == ids[2] {
		t.Errorf("request IDs repeat: %v", ids)
	}
}

func TestWorkerReturnsError(t *testing.T) {
	w := newTestWorker(t, nil)
	want := errors.New("boom")
	_, err := w.Do(func(*Request) (interface{}, error) { return nil, want })
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := newTestWorker(t, nil)

	_, err := w.Do(func(r *Request) (interface{}, error) {
		g := r.Thread.AssertUnused()
		defer g.Release()
		panic("request blew up")
	})
	if err == nil || !strings.Contains(err.Error(), "request blew up") {
		t.Fatalf("err = %v", err)
	}

	v, err := w.Do(func(r *Request) (interface{}, error) {
		return r.Thread.Protected() || r.Thread.TopGuard() != nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.(bool) {
		t.Error("guard survived the panic")
	}
}

func TestWorkerReraisesAssertion(t *testing.T) {
	w := newTestWorker(t, nil)

	func() {
		defer func() {
			ae, ok := recover().(*vm.AssertionError)
			if !ok || !strings.Contains(ae.Msg, "registers read") {
				t.Errorf("recovered %v, want register read assertion", ae)
			}
		}()
		w.Do(func(r *Request) (interface{}, error) {
			r.Thread.MarkDirty()
			return r.Thread.Regs(), nil
		})
	}()

	if _, err := w.Do(func(*Request) (interface{}, error) { return nil, nil }); err != nil {
		t.Errorf("worker unusable after assertion: %v", err)
	}
}

func TestWorkerResetsNormalRegion(t *testing.T) {
	w := newTestWorker(t, nil)

	_, err := w.Do(func(r *Request) (interface{}, error) {
		seg := r.Thread.Segments().Handle()
		seg.Normal()[0] = 0xaa
		seg.Persistent()[0] = 0xbb
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	v, err := w.Do(func(r *Request) (interface{}, error) {
		seg := r.Thread.Segments().Handle()
		return [2]byte{seg.Normal()[0], seg.Persistent()[0]}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := v.([2]byte); got != [2]byte{0, 0xbb} {
		t.Errorf("normal, persistent = %#x, want [0 0xbb]", got)
	}
}

func TestWorkerSyncsThroughFixups(t *testing.T) {
	dir := t.TempDir()
	fixups := jit.NewFixupMap()
	fixups.Record(0x4000, jit.Fixup{PCOffset: 2, SPOffset: 1})
	path := filepath.Join(dir, "fixups.cbor")
	if err := jit.SaveFixupMap(path, fixups, nil); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Guard.Enabled = false
	cfg.JIT.Fixups = path
	w := newTestWorker(t, cfg)

	v, err := w.Do(func(r *Request) (interface{}, error) {
		unit := vm.NewUnit("w.src", make([]byte, 32))
		fn := vm.NewFunc("main", unit, 8, 32)
		ar := r.Thread.Frames().Push(fn, 0, 0)
		defer r.Thread.Frames().Pop()

		r.Syncer.CallOut(r.Thread, ar, 0x4000, 0x7fff0000)
		var pc vm.PC
		r.Thread.WithSyncedRegs(func(regs *vm.Registers) {
			pc = regs.PC
		})
		return pc, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if pc := v.(vm.PC); pc.Off != 10 {
		t.Errorf("pc = %v, want offset 10", pc)
	}
}

func TestWorkerBadFixupPath(t *testing.T) {
	cfg := config.Default()
	cfg.JIT.Fixups = filepath.Join(t.TempDir(), "missing.cbor")
	if _, err := New(cfg); err == nil {
		t.Error("expected error for missing fixup map")
	}
}

func TestWorkerStop(t *testing.T) {
	cfg := config.Default()
	cfg.Guard.Enabled = false
	w, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if _, err := w.Do(func(*Request) (interface{}, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after Stop = %v, want ErrStopped", err)
	}
}
