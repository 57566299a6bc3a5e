//go:build release

package worker

import "testing"

func TestReleaseWorkerIgnoresGuards(t *testing.T) {
	w := newTestWorker(t, nil)

	v, err := w.Do(func(r *Request) (interface{}, error) {
		r.Thread.AssertUnused()
		r.Thread.DisableUnusedGuard()
		return r.Thread.TopGuard() == nil && !r.Thread.Protected(), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !v.(bool) {
		t.Error("release build guard changed thread state")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
