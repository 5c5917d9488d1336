package sched

// Round-robin selection over the bundle's slot array. Ordering is purely by
// slot index; within one rotation each occupied slot is visited at most
// once. Next advances the active index to the returned slot, so Current
// always reads the member that was last selected.

// Next scans forward from (active + 1) mod size for the first occupied
// slot, makes it active, and returns its thread. Returns nil if the bundle
// is empty.
func (b *Bundle) Next() *Thread {
	if b.size == 0 {
		return nil
	}

	start := b.active + 1
	for i := uint32(0); i < b.size; i++ {
		idx := (start + i) % b.size
		if b.slots[idx].present {
			b.active = idx
			b.totalLames++
			b.slots[idx].lameCount++
			return b.slots[idx].thread
		}
	}
	return nil
}

// Current returns the active slot's thread, or nil if that slot is empty.
func (b *Bundle) Current() *Thread {
	if b.size == 0 || !b.slots[b.active].present {
		return nil
	}
	return b.slots[b.active].thread
}

// NextFast is the packed-bundle fast path: it assumes occupied slots fill
// [0, used) with no holes, so the scan reduces to one modular increment.
// Callers that cannot maintain the packing invariant must use Next.
func (b *Bundle) NextFast() *Thread {
	if b.used == 0 {
		return nil
	}

	b.active = (b.active + 1) % b.used
	s := &b.slots[b.active]
	b.totalLames++
	s.lameCount++
	return s.thread
}
