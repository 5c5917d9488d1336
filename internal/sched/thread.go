package sched

// Thread is a user-level thread frame. The bundle borrows these from the
// run queue; ownership transfers back on dismantle. Only the owning worker's
// context mutates a thread's scheduling fields.
type Thread struct {
	ready    bool
	running  bool
	readyTSC uint64

	// link chains threads on a worker's overflow list.
	link *Thread

	// fn is the thread body; nil for externally-driven frames.
	fn func(*Thread)

	worker *Worker
	frame  Frame

	exiting bool
}

// NewThread creates a thread frame around fn. The frame starts parked; it
// runs only after a worker dispatches it.
func NewThread(fn func(*Thread)) *Thread {
	return &Thread{
		fn:    fn,
		frame: newFrame(),
	}
}

// Frame returns the thread's machine-state block.
func (t *Thread) Frame() *Frame { return &t.frame }

// Worker returns the worker the thread currently belongs to, or nil.
func (t *Thread) Worker() *Worker { return t.worker }

// Ready reports whether the thread is marked runnable.
func (t *Thread) Ready() bool { return t.ready }

// Running reports whether the thread is marked as executing.
func (t *Thread) Running() bool { return t.running }

// ReadyTSC returns the timestamp at which the thread last became runnable.
func (t *Thread) ReadyTSC() uint64 { return t.readyTSC }

// Frame is the machine-state block of a thread. The register block and sp
// follow the runtime frame layout, but switchFrames does not fill them: it
// records only pc, the capture point. The gate transfers control between
// thread frames: a parked frame resumes when its gate is signalled.
//
// The extended (vector) state block is not part of the exchange; the
// switching handler saves and restores it separately when the interrupted
// site requires it.
type Frame struct {
	pc uintptr
	sp uintptr

	// Callee-saved integer registers, in the runtime frame layout.
	rbx, rbp uint64
	r12, r13 uint64
	r14, r15 uint64

	gate chan struct{}

	// xstate is the live extended processor state for this frame.
	xstate [xstateWords]uint64
}

func newFrame() Frame {
	return Frame{gate: make(chan struct{}, 1)}
}

// PC returns the program counter captured at the last switch away from
// this frame.
func (f *Frame) PC() uintptr { return f.pc }

// switchFrames suspends the current frame and resumes next. The caller's
// capture point (pc) is recorded in cur; control returns from this call only
// when another switch selects cur again. Extended state is deliberately not
// touched here.
func switchFrames(cur, next *Frame, pc uintptr) {
	cur.pc = pc
	next.gate <- struct{}{}
	<-cur.gate
}

// resumeFrame releases a parked frame without parking the caller. Used to
// start the first member of a bundle and to release threads at teardown.
func resumeFrame(f *Frame) {
	select {
	case f.gate <- struct{}{}:
	default:
	}
}
