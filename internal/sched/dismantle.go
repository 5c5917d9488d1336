package sched

// Dismantle empties the bundle back into the worker's run queue. It runs
// when the worker is about to give up its CPU (cooperative cede, voluntary
// yield, forced descheduling), so every member that would otherwise stop
// executing is offered back to the ordinary scheduler for migration or
// re-dispatch.
//
// Owning-worker context only: the bundle is single-writer, and the lock
// taken here covers the run queue, not the membership state. Code off the
// worker requests teardown with RequestStop instead.

// Dismantle acquires the worker lock and spills the bundle.
func (w *Worker) Dismantle() {
	w.mu.Lock()
	w.dismantleLocked()
	w.mu.Unlock()
}

// DismantleNolock spills the bundle; the caller must already hold the
// worker lock.
func (w *Worker) DismantleNolock() {
	if w.mu.TryLock() {
		w.mu.Unlock()
		w.log.Panic().Int("worker", w.id).
			Msg("dismantle_nolock called without the worker lock held")
	}
	w.dismantleLocked()
}

// dismantleLocked spills every occupied slot, in slot-index order, onto the
// run queue, then resets the membership state. The dynamic gate is left
// alone: its state belongs to the gating policy and outlives one
// descheduling.
func (w *Worker) dismantleLocked() {
	b := &w.bundle
	spilled := 0

	for i := uint32(0); i < b.size; i++ {
		if !b.slots[i].present {
			continue
		}
		th := b.slots[i].thread

		th.ready = true
		th.running = false
		th.readyTSC = Cputicks()
		w.runqPutLocked(th)

		th.worker = nil
		b.slots[i] = Slot{}
		spilled++
	}

	b.used = 0
	b.active = 0
	b.activeSince = 0

	if spilled > 0 {
		w.spills.Add(uint64(spilled))
		w.log.Debug().Int("worker", w.id).Int("spilled", spilled).
			Msg("dismantled bundle to run queue")
	}
}

// Spills returns the total number of members returned to the run queue by
// dismantle operations on this worker.
func (w *Worker) Spills() uint64 {
	return w.spills.Load()
}
