package sched

import (
	"errors"
	"testing"
)

// checkInvariants verifies the bundle bookkeeping that must hold between
// operations: used matches the occupied-slot count, empty slots hold no
// thread, threads occupy at most one slot, and active stays in range.
func checkInvariants(t *testing.T, w *Worker) {
	t.Helper()
	b := w.Bundle()

	count := uint32(0)
	seen := make(map[*Thread]int)
	for i := uint32(0); i < b.Size(); i++ {
		s := b.Slot(int(i))
		if s.Present() {
			count++
			if s.Thread() == nil {
				t.Fatalf("slot %d present with nil thread", i)
			}
			seen[s.Thread()]++
		} else if s.Thread() != nil {
			t.Fatalf("slot %d not present but holds a thread", i)
		}
	}
	if count != b.Used() {
		t.Fatalf("used = %d, occupied slots = %d", b.Used(), count)
	}
	if b.Used() > b.Size() {
		t.Fatalf("used %d exceeds size %d", b.Used(), b.Size())
	}
	if b.Size() > 0 && b.Active() >= b.Size() {
		t.Fatalf("active %d out of range for size %d", b.Active(), b.Size())
	}
	for th, n := range seen {
		if n > 1 {
			t.Fatalf("thread %p occupies %d slots", th, n)
		}
	}
}

func newTestWorker(t *testing.T, size int) *Worker {
	t.Helper()
	w, err := NewWorker(0, size)
	if err != nil {
		t.Fatalf("NewWorker(%d) failed: %v", size, err)
	}
	t.Cleanup(ResetWorkers)
	return w
}

func TestBundleInit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "size one", size: 1},
		{name: "size two", size: 2},
		{name: "max size", size: BundleCap},
		{name: "zero size", size: 0, wantErr: true},
		{name: "beyond capacity", size: BundleCap + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Worker{}
			err := w.BundleInit(tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BundleInit failed: %v", err)
			}

			b := w.Bundle()
			if b.Size() != uint32(tt.size) {
				t.Errorf("size = %d, want %d", b.Size(), tt.size)
			}
			if b.Used() != 0 || b.Active() != 0 {
				t.Errorf("used/active not zeroed: %d/%d", b.Used(), b.Active())
			}
			if w.SchedIsDynamicallyEnabled() {
				t.Error("bundle should start dynamically disabled")
			}
			if b.TotalLames() != 0 || b.TotalCycles() != 0 {
				t.Error("counters not zeroed")
			}
		})
	}
}

func TestBundleCleanup(t *testing.T) {
	w := newTestWorker(t, 4)
	if err := w.BundleAdd(NewThread(nil), false); err != nil {
		t.Fatalf("BundleAdd failed: %v", err)
	}
	w.SchedEnable()

	w.BundleCleanup()

	b := w.Bundle()
	if b.Size() != 0 || b.Used() != 0 {
		t.Errorf("cleanup left size=%d used=%d", b.Size(), b.Used())
	}
	if w.SchedIsDynamicallyEnabled() {
		t.Error("cleanup left the bundle enabled")
	}
	if w.SchedIsStaticallyEnabled() {
		t.Error("cleanup left the bundle statically enabled")
	}
}

func TestBundleAddRemove(t *testing.T) {
	w := newTestWorker(t, 4)
	threads := make([]*Thread, 4)
	for i := range threads {
		threads[i] = NewThread(nil)
	}

	// Fill the bundle
	for i, th := range threads {
		if err := w.BundleAdd(th, false); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
		checkInvariants(t, w)
	}
	if w.BundleUsedCount() != 4 {
		t.Fatalf("used = %d, want 4", w.BundleUsedCount())
	}

	// Full bundle rejects a new thread
	if err := w.BundleAdd(NewThread(nil), false); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}

	// Remove everything
	for i, th := range threads {
		if err := w.BundleRemove(th); err != nil {
			t.Fatalf("remove %d failed: %v", i, err)
		}
		checkInvariants(t, w)
	}
	if w.BundleUsedCount() != 0 {
		t.Fatalf("used = %d after removals, want 0", w.BundleUsedCount())
	}

	// Removing an absent thread reports NotFound
	if err := w.BundleRemove(threads[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBundleAddDuplicate(t *testing.T) {
	w := newTestWorker(t, 4)
	th := NewThread(nil)

	if err := w.BundleAdd(th, false); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	// Duplicate add is reported as success, membership unchanged
	if err := w.BundleAdd(th, false); err != nil {
		t.Fatalf("duplicate add should succeed silently, got %v", err)
	}
	if w.BundleUsedCount() != 1 {
		t.Fatalf("used = %d after duplicate add, want 1", w.BundleUsedCount())
	}
	checkInvariants(t, w)
}

func TestBundleAddRemoveRoundTrip(t *testing.T) {
	w := newTestWorker(t, 4)
	resident := NewThread(nil)
	if err := w.BundleAdd(resident, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	before := *w.Bundle()

	th := NewThread(nil)
	if err := w.BundleAdd(th, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := w.BundleRemove(th); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	after := *w.Bundle()
	if before != after {
		t.Errorf("bundle state changed across add/remove round trip:\n before %+v\n after  %+v",
			before, after)
	}
}

func TestBundleRemoveByIndex(t *testing.T) {
	w := newTestWorker(t, 3)
	th := NewThread(nil)
	if err := w.BundleAdd(th, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := w.BundleRemoveByIndex(3); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("index = size: expected ErrInvalidIndex, got %v", err)
	}
	if err := w.BundleRemoveByIndex(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty slot: expected ErrNotFound, got %v", err)
	}
	if err := w.BundleRemoveByIndex(0); err != nil {
		t.Errorf("occupied slot: unexpected error %v", err)
	}
	if w.BundleUsedCount() != 0 {
		t.Errorf("used = %d, want 0", w.BundleUsedCount())
	}
	checkInvariants(t, w)
}

func TestBundleRemoveAtActive(t *testing.T) {
	w := newTestWorker(t, 3)
	if err := w.BundleRemoveAtActive(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty bundle: expected ErrNotFound, got %v", err)
	}

	a, b, c := NewThread(nil), NewThread(nil), NewThread(nil)
	if err := w.BundleAdd(a, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := w.BundleAdd(b, true); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := w.BundleAdd(c, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if w.Bundle().Active() != 1 {
		t.Fatalf("active = %d after set_active add, want 1", w.Bundle().Active())
	}

	// Removing at active then rotating selects the next occupied slot.
	if err := w.BundleRemoveAtActive(); err != nil {
		t.Fatalf("remove at active failed: %v", err)
	}
	next := w.Bundle().Next()
	if next != c {
		t.Errorf("Next after remove-at-active returned wrong thread")
	}
	if w.Bundle().Active() != 2 {
		t.Errorf("active = %d, want 2", w.Bundle().Active())
	}
	checkInvariants(t, w)
}

func TestBundleFlagSweeps(t *testing.T) {
	w := newTestWorker(t, 4)
	threads := make([]*Thread, 3)
	for i := range threads {
		threads[i] = NewThread(nil)
		threads[i].ready = true
		if err := w.BundleAdd(threads[i], false); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	w.BundleSetReadyFalseAll()
	w.BundleSetRunningTrueAll()
	for i, th := range threads {
		if th.Ready() {
			t.Errorf("thread %d still ready", i)
		}
		if !th.Running() {
			t.Errorf("thread %d not running", i)
		}
	}
}

func TestSchedEnableDisable(t *testing.T) {
	w := newTestWorker(t, 2)

	if w.SchedIsEnabled() {
		t.Fatal("bundle should start disabled")
	}
	if !w.SchedIsStaticallyEnabled() {
		t.Fatal("size 2 should be statically enabled")
	}

	w.SchedEnable()
	if !w.SchedIsEnabled() {
		t.Fatal("enable did not take effect")
	}
	// Idempotent
	w.SchedEnable()
	if !w.SchedIsEnabled() {
		t.Fatal("repeated enable flipped state")
	}

	w.SchedDisable()
	if w.SchedIsEnabled() {
		t.Fatal("disable did not take effect")
	}
	w.SchedDisable()
	if w.SchedIsEnabled() {
		t.Fatal("repeated disable flipped state")
	}
}

func TestSchedEnableSizeOne(t *testing.T) {
	w := newTestWorker(t, 1)

	// The dynamic gate has no effect without static enablement.
	w.SchedEnable()
	if w.SchedIsEnabled() {
		t.Error("size 1 bundle must never report enabled")
	}
	if w.SchedIsStaticallyEnabled() {
		t.Error("size 1 is not statically enabled")
	}
}
