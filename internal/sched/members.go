package sched

import "sync"

// Member dispatch harness. Bundle members run as parked frames; exactly one
// member of a worker executes at a time, released through its frame gate by
// the switching handler or by the exit path of the previous member.

var memberWG sync.WaitGroup

// StartMembers launches every occupied slot's thread as a parked frame and
// releases the active member. Call after the bundle has been populated.
func (w *Worker) StartMembers() {
	b := &w.bundle
	for i := uint32(0); i < b.size; i++ {
		if !b.slots[i].present {
			continue
		}
		th := b.slots[i].thread
		memberWG.Add(1)
		go w.memberLoop(th)
	}

	cur := b.Current()
	if cur == nil {
		// The active slot may be empty when members were added without
		// set_active; dispatch the first occupied slot.
		for i := uint32(0); i < b.size; i++ {
			if b.slots[i].present {
				b.active = i
				cur = b.slots[i].thread
				break
			}
		}
	}
	if cur != nil {
		w.self = cur
		cur.running = true
		b.activeSince = Cputicks()
		resumeFrame(&cur.frame)
	}
}

func (w *Worker) memberLoop(th *Thread) {
	defer memberWG.Done()

	w.bindCurrent()
	defer w.unbindCurrent()

	<-th.frame.gate
	if th.exiting {
		return
	}

	th.running = true
	if th.fn != nil {
		th.fn(th)
	}
	w.memberExit(th)
}

// memberExit retires a finished member: it leaves the bundle and the next
// member in rotation is released. A pending stop request is honored here,
// in the owning goroutine, so the dismantle never races the handler. The
// worker goes idle when the bundle empties.
func (w *Worker) memberExit(th *Thread) {
	th.running = false

	err := w.BundleRemove(th)
	if err != nil && !w.stopRequested.Load() {
		w.log.Warn().Int("worker", w.id).Err(err).Msg("exiting member not in bundle")
	}

	if w.stopRequested.Load() {
		w.self = nil
		w.teardown()
		return
	}
	if err != nil {
		return
	}

	next := w.bundle.Next()
	if next == nil {
		w.self = nil
		return
	}
	w.self = next
	w.bundle.activeSince = Cputicks()
	resumeFrame(&next.frame)
}

// teardown dismantles the bundle and retires every spilled thread so its
// goroutine exits. Owning-worker context only: callers elsewhere request
// it through RequestStop and let the running member perform it.
func (w *Worker) teardown() {
	w.Dismantle()
	for {
		th := w.RunqGet()
		if th == nil {
			break
		}
		th.exiting = true
		resumeFrame(&th.frame)
	}
}

// WaitMembers blocks until every member goroutine has exited.
func WaitMembers() {
	memberWG.Wait()
}

// WorkerStats is a point-in-time snapshot of one worker's scheduling
// statistics, read by the metrics collector.
type WorkerStats struct {
	ID      int
	Size    uint32
	Used    uint32
	Active  uint32
	Enabled bool

	TotalLames      uint64
	TotalXsaveLames uint64
	TotalCycles     uint64
	SkippedLames    uint64
	Spills          uint64

	RunqLen int

	SlotLames  [BundleCap]uint64
	SlotCycles [BundleCap]uint64
}

// StatsSnapshot captures the worker's counters. Aggregate readers visit
// every worker; counters are per-worker and never cross threads.
func (w *Worker) StatsSnapshot() WorkerStats {
	b := &w.bundle
	s := WorkerStats{
		ID:              w.id,
		Size:            b.size,
		Used:            b.used,
		Active:          b.active,
		Enabled:         b.enabled,
		TotalLames:      b.totalLames,
		TotalXsaveLames: b.totalXsaveLames,
		TotalCycles:     b.totalCycles,
		SkippedLames:    b.skippedLames,
		Spills:          w.spills.Load(),
		RunqLen:         w.RunqLen(),
	}
	for i := uint32(0); i < b.size; i++ {
		s.SlotLames[i] = b.slots[i].lameCount
		s.SlotCycles[i] = b.slots[i].cycles
	}
	return s
}
