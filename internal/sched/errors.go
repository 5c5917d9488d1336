package sched

import "errors"

// Error kinds surfaced by bundle membership operations and registration.
// Membership errors are recoverable by the caller; ErrKernelRegister is fatal
// for the LAME capability only (the runtime proceeds without switching).
var (
	// ErrNoSpace is returned when adding a thread to a full bundle.
	ErrNoSpace = errors.New("bundle has no empty slot")

	// ErrNotFound is returned when removing a thread that is not present.
	ErrNotFound = errors.New("thread not found in bundle")

	// ErrInvalidIndex is returned for slot indices at or beyond the
	// effective bundle size.
	ErrInvalidIndex = errors.New("slot index out of range")

	// ErrInvalidConfig is returned for impossible bundle configurations
	// (zero size, size beyond capacity, mismatched measurement mode).
	ErrInvalidConfig = errors.New("invalid bundle configuration")

	// ErrKernelRegister is returned when the kernel control device
	// rejects the handler registration.
	ErrKernelRegister = errors.New("kernel handler registration failed")
)
