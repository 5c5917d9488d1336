package sched

import "lame_sched/internal/config"

// BundleCap is the compile-time slot capacity of every bundle.
const BundleCap = config.BundleSizeMax

// Slot is one cell of a bundle: empty, or a borrowed reference to a thread
// frame plus its per-slot accounting.
type Slot struct {
	thread    *Thread
	present   bool
	cycles    uint64
	lameCount uint64
}

// Thread returns the slot's occupant, or nil.
func (s *Slot) Thread() *Thread { return s.thread }

// Present reports whether the slot is occupied.
func (s *Slot) Present() bool { return s.present }

// LameCount returns the number of times this slot was selected.
func (s *Slot) LameCount() uint64 { return s.lameCount }

// Cycles returns the cycles accounted to this slot's occupant.
func (s *Slot) Cycles() uint64 { return s.cycles }

// Bundle is a fixed-capacity ordered set of user threads co-resident on one
// worker. Scheduling is statically enabled when size > 1 and dynamically
// enabled when the runtime gate flag is set; the handler switches only when
// both hold.
type Bundle struct {
	slots  [BundleCap]Slot
	size   uint32
	used   uint32
	active uint32

	enabled bool

	totalCycles     uint64
	totalLames      uint64
	totalXsaveLames uint64
	skippedLames    uint64

	// activeSince timestamps the current member's dispatch for cycle
	// accounting at the next switch.
	activeSince uint64
}

// Size returns the effective bundle size.
func (b *Bundle) Size() uint32 { return b.size }

// Used returns the number of occupied slots.
func (b *Bundle) Used() uint32 { return b.used }

// Active returns the index of the currently running member's slot.
func (b *Bundle) Active() uint32 { return b.active }

// Slot returns the i'th slot for inspection.
func (b *Bundle) Slot(i int) *Slot { return &b.slots[i] }

// TotalLames returns the number of switches performed.
func (b *Bundle) TotalLames() uint64 { return b.totalLames }

// TotalXsaveLames returns the number of switches that saved extended state.
func (b *Bundle) TotalXsaveLames() uint64 { return b.totalXsaveLames }

// TotalCycles returns the cycles accounted across all members.
func (b *Bundle) TotalCycles() uint64 { return b.totalCycles }

// SkippedLames returns the number of ticks dropped by the dynamic gate.
func (b *Bundle) SkippedLames() uint64 { return b.skippedLames }

// BundleInit initializes the worker's bundle to the given effective size:
// all slots empty, counters zeroed, scheduling dynamically disabled.
func (w *Worker) BundleInit(size int) error {
	if size < 1 || size > BundleCap {
		return ErrInvalidConfig
	}
	b := &w.bundle
	*b = Bundle{size: uint32(size)}
	return nil
}

// BundleCleanup resets the bundle to size zero, disabling it entirely.
func (w *Worker) BundleCleanup() {
	w.bundle = Bundle{}
}

// BundleAdd places th in the first empty slot. Adding a thread that is
// already a member is reported as success and logged at warn. When
// setActive is true the new slot becomes the active index.
func (w *Worker) BundleAdd(th *Thread, setActive bool) error {
	b := &w.bundle
	if b.size == 0 {
		return ErrInvalidConfig
	}

	firstEmpty := -1
	for i := uint32(0); i < b.size; i++ {
		if b.slots[i].present {
			if b.slots[i].thread == th {
				w.log.Warn().Int("worker", w.id).Uint32("slot", i).
					Msg("attempted to add duplicate thread to bundle")
				return nil
			}
		} else if firstEmpty == -1 {
			firstEmpty = int(i)
		}
	}

	if firstEmpty == -1 {
		w.log.Debug().Int("worker", w.id).Msg("bundle is full, cannot add thread")
		return ErrNoSpace
	}

	b.slots[firstEmpty] = Slot{thread: th, present: true}
	b.used++
	th.worker = w
	if setActive {
		b.active = uint32(firstEmpty)
	}

	w.log.Debug().Int("worker", w.id).Int("slot", firstEmpty).
		Msg("added thread to bundle")
	return nil
}

// BundleRemove clears the first occupied slot holding th.
func (w *Worker) BundleRemove(th *Thread) error {
	b := &w.bundle
	for i := uint32(0); i < b.size; i++ {
		if b.slots[i].present && b.slots[i].thread == th {
			return w.bundleClearSlot(i)
		}
	}
	return ErrNotFound
}

// BundleRemoveByIndex clears slot i.
func (w *Worker) BundleRemoveByIndex(i uint32) error {
	b := &w.bundle
	if i >= b.size {
		return ErrInvalidIndex
	}
	if !b.slots[i].present {
		return ErrNotFound
	}
	return w.bundleClearSlot(i)
}

// BundleRemoveAtActive clears the slot at the active index.
func (w *Worker) BundleRemoveAtActive() error {
	b := &w.bundle
	if !b.slots[b.active].present {
		return ErrNotFound
	}
	return w.bundleClearSlot(b.active)
}

func (w *Worker) bundleClearSlot(i uint32) error {
	b := &w.bundle
	if b.slots[i].thread != nil {
		b.slots[i].thread.worker = nil
	}
	b.slots[i] = Slot{}
	b.used--

	w.log.Debug().Int("worker", w.id).Uint32("slot", i).
		Msg("removed thread from bundle")
	return nil
}

// BundleUsedCount returns the number of occupied slots.
func (w *Worker) BundleUsedCount() uint32 {
	return w.bundle.used
}

// BundleSetReadyFalseAll clears the ready flag of every member.
func (w *Worker) BundleSetReadyFalseAll() {
	b := &w.bundle
	for i := uint32(0); i < b.size; i++ {
		if b.slots[i].present {
			b.slots[i].thread.ready = false
		}
	}
}

// BundleSetRunningTrueAll sets the running flag of every member.
func (w *Worker) BundleSetRunningTrueAll() {
	b := &w.bundle
	for i := uint32(0); i < b.size; i++ {
		if b.slots[i].present {
			b.slots[i].thread.running = true
		}
	}
}

// SchedEnable sets the dynamic gate. Callers flip this when entering
// sections where bundle switching is allowed; it has no effect unless
// scheduling is statically enabled.
func (w *Worker) SchedEnable() {
	if w.bundle.size > 1 {
		w.bundle.enabled = true
		w.log.Debug().Int("worker", w.id).Msg("enabled bundle scheduling")
	}
}

// SchedDisable clears the dynamic gate. Callers flip this around critical
// sections where switching must not happen.
func (w *Worker) SchedDisable() {
	if w.bundle.size > 1 {
		w.bundle.enabled = false
		w.log.Debug().Int("worker", w.id).Msg("disabled bundle scheduling")
	}
}

// SchedIsStaticallyEnabled reports whether the configured size admits
// switching at all.
func (w *Worker) SchedIsStaticallyEnabled() bool {
	return w.bundle.size > 1
}

// SchedIsDynamicallyEnabled reports the runtime gate flag.
func (w *Worker) SchedIsDynamicallyEnabled() bool {
	return w.bundle.enabled
}

// SchedIsEnabled reports whether the handler may switch: both static and
// dynamic enablement are required.
func (w *Worker) SchedIsEnabled() bool {
	return w.bundle.size > 1 && w.bundle.enabled
}
