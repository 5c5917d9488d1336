package sched

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	plog "github.com/phuslu/log"

	"lame_sched/internal/logger"
)

// RunqCap is the per-worker circular run queue capacity.
const RunqCap = 256

// QPtrs is the published queue state other components read without taking
// the worker lock.
type QPtrs struct {
	RqHead    atomic.Uint64
	OldestTSC atomic.Uint64
}

// Worker is a per-CPU execution context. The bundle, run queue and overflow
// list it embeds are mutated only by code running on this worker; the run
// queue tail is the one field read with acquire ordering against a producer
// on the same worker.
type Worker struct {
	id int

	// mu protects the run queue and overflow list.
	mu sync.Mutex

	rq     [RunqCap]*Thread
	rqHead atomic.Uint32
	rqTail atomic.Uint32

	// Overflow list, FIFO, chained through Thread.link.
	overflowHead *Thread
	overflowTail *Thread

	qPtrs QPtrs

	bundle Bundle

	// self is the currently executing thread on this worker.
	self *Thread

	preemptCount atomic.Int32

	// parkPending requests a deeper reschedule from the PMU return slow
	// path: cooperative cede when cedeWanted is also set, plain yield
	// otherwise.
	parkPending atomic.Bool
	cedeWanted  atomic.Bool

	// stopRequested asks the owning member context to dismantle and
	// retire the bundle the next time it runs. The flag is the only
	// cross-goroutine part of teardown; the dismantle itself stays on
	// the worker.
	stopRequested atomic.Bool

	// Runtime hooks consumed by the slow return path.
	cedeFn  func(*Worker)
	yieldFn func(*Worker)

	variant Variant
	bitmap  *SiteBitmap

	spills atomic.Uint64

	log plog.Logger
}

var (
	workersMu sync.Mutex
	workers   []*Worker

	// workerByGoid maps a bound goroutine to its worker, the thread-local
	// slot wired at member start.
	workerByGoid sync.Map
)

// NewWorker creates a worker with a bundle of the given effective size and
// registers it in the process-wide worker table.
func NewWorker(id int, bundleSize int) (*Worker, error) {
	w := &Worker{
		id:      id,
		variant: VariantSwitch,
		log:     logger.NewLoggerWithContext("sched"),
	}
	if err := w.BundleInit(bundleSize); err != nil {
		return nil, err
	}

	workersMu.Lock()
	workers = append(workers, w)
	workersMu.Unlock()

	w.log.Debug().Int("worker", id).Int("bundle_size", bundleSize).Msg("worker created")
	return w, nil
}

// AllWorkers returns a snapshot of the worker table. Aggregate statistic
// reads visit every worker through this.
func AllWorkers() []*Worker {
	workersMu.Lock()
	defer workersMu.Unlock()
	out := make([]*Worker, len(workers))
	copy(out, workers)
	return out
}

// ResetWorkers clears the worker table. Intended for tests and full
// runtime teardown.
func ResetWorkers() {
	workersMu.Lock()
	workers = nil
	workersMu.Unlock()
}

// ID returns the worker's index.
func (w *Worker) ID() int { return w.id }

// Bundle returns the worker's embedded bundle.
func (w *Worker) Bundle() *Bundle { return &w.bundle }

// Self returns the worker's current thread pointer.
func (w *Worker) Self() *Thread { return w.self }

// SetSelf updates the worker's current thread pointer.
func (w *Worker) SetSelf(t *Thread) { w.self = t }

// SetVariant installs the handler variant chosen at registration.
func (w *Worker) SetVariant(v Variant) { w.variant = v }

// SetBitmap installs the static-site bitmap consulted by the extended-state
// decision. A nil bitmap means extended state is always assumed live.
func (w *Worker) SetBitmap(b *SiteBitmap) { w.bitmap = b }

// SetRescheduleHooks installs the cooperative cede and yield entry points
// used by the PMU return slow path.
func (w *Worker) SetRescheduleHooks(cede, yield func(*Worker)) {
	w.cedeFn = cede
	w.yieldFn = yield
}

// RequestPark arms the slow return path to perform a deeper reschedule,
// ceding the core when cede is true and yielding otherwise.
func (w *Worker) RequestPark(cede bool) {
	w.cedeWanted.Store(cede)
	w.parkPending.Store(true)
}

// PreemptDisable enters a no-preemption section on this worker.
func (w *Worker) PreemptDisable() { w.preemptCount.Add(1) }

// PreemptEnable leaves a no-preemption section.
func (w *Worker) PreemptEnable() {
	if w.preemptCount.Add(-1) < 0 {
		w.log.Panic().Int("worker", w.id).Msg("preemption count underflow")
	}
}

// PreemptDisabled reports whether preemption is currently off.
func (w *Worker) PreemptDisabled() bool { return w.preemptCount.Load() > 0 }

// RequestStop flags the worker for teardown. Safe from any goroutine: the
// owning member context observes the flag and performs the dismantle
// itself, keeping the bundle single-writer.
func (w *Worker) RequestStop() { w.stopRequested.Store(true) }

// StopRequested reports whether teardown has been requested.
func (w *Worker) StopRequested() bool { return w.stopRequested.Load() }

// goid returns the calling goroutine's id, parsed from the runtime.Stack
// header ("goroutine N [running]:").
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := buf[len("goroutine "):n]
	id := uint64(0)
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// bindCurrent wires the calling goroutine to this worker so CurrentWorker
// resolves inside handler code.
func (w *Worker) bindCurrent() { workerByGoid.Store(goid(), w) }

// unbindCurrent releases the calling goroutine's worker binding.
func (w *Worker) unbindCurrent() { workerByGoid.Delete(goid()) }

// CurrentWorker returns the worker bound to the calling goroutine, or nil.
func CurrentWorker() *Worker {
	v, ok := workerByGoid.Load(goid())
	if !ok {
		return nil
	}
	return v.(*Worker)
}

var tscEpoch = time.Now()

// Cputicks returns a monotonic timestamp in nanoseconds since process start,
// standing in for the cycle counter. Readings are only compared against
// other readings from the same worker.
func Cputicks() uint64 {
	return uint64(time.Since(tscEpoch))
}
