package sched

import "fmt"

// The switching handler. Entered from a trap stub with volatile registers
// already saved and preemption disabled; returns by resuming the next
// bundle member. Reentry on the same worker is a bug, which the preemption
// requirement rules out.

// Variant selects the handler body installed at registration. Exactly one
// variant is active per worker per run.
type Variant int

const (
	// VariantSwitch is the normal round-robin switching handler.
	VariantSwitch Variant = iota

	// VariantSwitchPretend switches after a fixed extra stall, used to
	// calibrate handler overhead.
	VariantSwitchPretend

	// VariantStall busy-waits to a TSC deadline instead of switching.
	VariantStall

	// VariantNop returns immediately.
	VariantNop
)

// pretendStallCycles is the fixed calibration stall for the pretend variant.
const pretendStallCycles = 2000

// stallDeltaCycles is the busy-wait budget for the stall variant.
const stallDeltaCycles = 4000

// Handle is the handler entry point called by the trap stub, with pc the
// interrupted program counter. It resolves the calling context's worker.
func Handle(pc uintptr) {
	w := CurrentWorker()
	if w == nil {
		panic("lame handler invoked outside a worker context")
	}
	w.HandleLame(pc)
}

// HandleLame runs the variant installed on this worker.
func (w *Worker) HandleLame(pc uintptr) {
	switch w.variant {
	case VariantSwitch:
		w.handleSwitch(pc)
	case VariantSwitchPretend:
		stallUntil(Cputicks() + pretendStallCycles)
		w.handleSwitch(pc)
	case VariantStall:
		w.LameStall()
	case VariantNop:
	}
}

// handleSwitch is the normal switching body. The early returns leave
// membership and the active index untouched (the gate-off return only
// counts the skipped tick); the stub re-enables preemption after we return. On a
// switch, control comes back here only when the rotation selects the
// interrupted member again.
func (w *Worker) handleSwitch(pc uintptr) {
	if !w.PreemptDisabled() {
		w.log.Panic().Int("worker", w.id).
			Msg("lame handler entered with preemption enabled")
	}

	b := &w.bundle
	if !w.SchedIsEnabled() {
		b.skippedLames++
		return
	}
	if b.used <= 1 {
		return
	}

	cur := b.Current()
	if cur == nil {
		w.log.Panic().Int("worker", w.id).Uint32("active", b.active).
			Msg("bundle corruption: no current thread with used > 1")
	}

	next := b.Next()
	if next == nil {
		w.log.Panic().Int("worker", w.id).
			Str("current", fmt.Sprintf("%p", cur)).
			Msg("bundle corruption: no next thread with used > 1")
	}

	// Account the departing member's cycles.
	now := Cputicks()
	if b.activeSince != 0 {
		delta := now - b.activeSince
		b.totalCycles += delta
		for i := uint32(0); i < b.size; i++ {
			if b.slots[i].present && b.slots[i].thread == cur {
				b.slots[i].cycles += delta
				break
			}
		}
	}
	b.activeSince = now

	w.self = next

	// Save extended state only when the interrupted site has it live.
	var scratch *XStateArea
	if w.needsXSave(pc) {
		scratch = newAlignedXState()
		saveXState(&cur.frame, scratch)
		b.totalXsaveLames++
	}

	switchFrames(&cur.frame, &next.frame, pc)

	if scratch != nil {
		restoreXState(&cur.frame, scratch)
	}
}

// HandleBretSlowpath is the slow half of the PMU return sequence. The fast
// path pops the flags register and returns; this path runs when a deeper
// reschedule was requested, saving extended state around the cede or yield
// call.
func (w *Worker) HandleBretSlowpath() {
	if !w.parkPending.Load() {
		return
	}
	w.parkPending.Store(false)

	cur := w.bundle.Current()
	var scratch *XStateArea
	if cur != nil {
		scratch = newAlignedXState()
		saveXState(&cur.frame, scratch)
	}

	if w.cedeWanted.Load() {
		w.cedeWanted.Store(false)
		if w.cedeFn != nil {
			w.cedeFn(w)
		}
	} else if w.yieldFn != nil {
		w.yieldFn(w)
	}

	if scratch != nil {
		restoreXState(&cur.frame, scratch)
	}
}

// LameStall emulates the cost of a switch without performing one: a timed
// busy-wait to a deadline a fixed delta ahead.
func (w *Worker) LameStall() {
	stallUntil(Cputicks() + stallDeltaCycles)
}

func stallUntil(deadline uint64) {
	for Cputicks() < deadline {
	}
}

// TriggerLame is the software delivery stub: the moral equivalent of the
// INT-vector entry. It saves nothing (the Go scheduler preserves our
// volatile state), disables preemption for the handler body, and re-enables
// it when the interrupted frame resumes.
func (w *Worker) TriggerLame(pc uintptr) {
	w.PreemptDisable()
	w.HandleLame(pc)
	w.PreemptEnable()
}
