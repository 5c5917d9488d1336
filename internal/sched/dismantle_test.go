package sched

import "testing"

func TestDismantleSpillsInSlotOrder(t *testing.T) {
	w := newTestWorker(t, 4)
	threads := make([]*Thread, 4)
	for i := range threads {
		threads[i] = NewThread(nil)
		if err := w.BundleAdd(threads[i], false); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
	}
	w.SchedEnable()

	w.Dismantle()

	b := w.Bundle()
	if b.Used() != 0 || b.Active() != 0 {
		t.Errorf("dismantle left used=%d active=%d", b.Used(), b.Active())
	}
	for i := 0; i < 4; i++ {
		if b.Slot(i).Present() {
			t.Errorf("slot %d still occupied after dismantle", i)
		}
	}

	// The gate state belongs to the gating policy and survives dismantle.
	if !w.SchedIsDynamicallyEnabled() {
		t.Error("dismantle must not clear the dynamic gate")
	}

	// Members arrive on the run queue in slot-index order.
	for i, want := range threads {
		got := w.RunqGet()
		if got != want {
			t.Fatalf("run queue position %d holds the wrong thread", i)
		}
		if !got.Ready() || got.Running() {
			t.Errorf("spilled thread %d: ready=%v running=%v, want ready and not running",
				i, got.Ready(), got.Running())
		}
		if got.ReadyTSC() == 0 {
			t.Errorf("spilled thread %d has no ready timestamp", i)
		}
	}
	if w.RunqGet() != nil {
		t.Error("run queue holds extra entries after dismantle")
	}
}

func TestDismantleEmptyBundleIsNoop(t *testing.T) {
	w := newTestWorker(t, 4)
	w.Dismantle()

	if w.RunqLen() != 0 {
		t.Error("dismantle of empty bundle touched the run queue")
	}
	if w.Spills() != 0 {
		t.Error("dismantle of empty bundle counted spills")
	}
}

func TestDismantleOverflowPath(t *testing.T) {
	w := newTestWorker(t, 4)

	// Fill the run queue to capacity minus one.
	prefill := make([]*Thread, RunqCap-1)
	for i := range prefill {
		prefill[i] = NewThread(nil)
		w.RunqPut(prefill[i])
	}

	members := make([]*Thread, 4)
	for i := range members {
		members[i] = NewThread(nil)
		if err := w.BundleAdd(members[i], false); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
	}

	w.Dismantle()

	// The first member fits in the circular queue; the rest spill to the
	// overflow list.
	if got := w.OverflowLen(); got != 3 {
		t.Fatalf("overflow length = %d, want 3", got)
	}
	if got := w.RunqLen(); got != RunqCap+3 {
		t.Fatalf("total queued = %d, want %d", got, RunqCap+3)
	}

	// Draining preserves FIFO: prefill first, then members in slot order.
	for i, want := range prefill {
		if got := w.RunqGet(); got != want {
			t.Fatalf("drain position %d: wrong prefill thread", i)
		}
	}
	for i, want := range members {
		if got := w.RunqGet(); got != want {
			t.Fatalf("drain position %d: wrong member thread", RunqCap-1+i)
		}
	}
	if w.RunqGet() != nil {
		t.Error("queue not empty after full drain")
	}
}

func TestDismantleSpillCounter(t *testing.T) {
	w := newTestWorker(t, 4)
	for i := 0; i < 3; i++ {
		if err := w.BundleAdd(NewThread(nil), false); err != nil {
			t.Fatal(err)
		}
	}
	w.Dismantle()

	if got := w.Spills(); got != 3 {
		t.Errorf("spill counter = %d, want 3", got)
	}
}

func TestDismantleNolock(t *testing.T) {
	w := newTestWorker(t, 2)
	th := NewThread(nil)
	if err := w.BundleAdd(th, false); err != nil {
		t.Fatal(err)
	}

	w.mu.Lock()
	w.DismantleNolock()
	w.mu.Unlock()

	if w.BundleUsedCount() != 0 {
		t.Error("nolock dismantle did not empty the bundle")
	}
	if got := w.RunqGet(); got != th {
		t.Error("nolock dismantle did not spill to the run queue")
	}
}

func TestDismantleNolockAssertsLockHeld(t *testing.T) {
	w := newTestWorker(t, 2)

	defer func() {
		if recover() == nil {
			t.Error("DismantleNolock without the lock must panic")
		}
	}()
	w.DismantleNolock()
}
