//go:build linux

package sched

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"lame_sched/internal/config"
	"lame_sched/internal/logger"
)

// lameDevPath is the kernel control device for handler registration.
const lameDevPath = "/dev/lame"

// lameArg is the ioctl payload: a presence flag and the entry stub address.
type lameArg struct {
	Present     uint64
	HandlerAddr uint64
}

// ioctl request encoding, _IOW('L', nr, struct lame_arg).
const (
	iocWrite     = 1
	lameIoctlTyp = 'L'
)

func lameIoctlRequest(nr uint32) uintptr {
	return uintptr(iocWrite<<30 |
		uint32(unsafe.Sizeof(lameArg{}))<<16 | lameIoctlTyp<<8 | nr)
}

// Register opens the kernel control device and installs the entry stub for
// the configured delivery mode. A RegisterNone configuration is a no-op; a
// rejected registration returns ErrKernelRegister and the caller leaves the
// core inert.
func Register(cfg *config.LameConfig) error {
	log := logger.NewLoggerWithContext("lame_register")

	if cfg.Register == config.RegisterNone {
		log.Warn().Msg("LAME handler not registered")
		return nil
	}

	// config.Validate rejects a TSC mode with bundle size != 2 before the
	// daemon ever registers; this check only guards direct callers, and
	// its ErrInvalidConfig is deliberately not ErrKernelRegister (the
	// device was never consulted).
	addr, mode, err := entryStubFor(cfg)
	if err != nil {
		return fmt.Errorf("lame registration: tsc measurement mode requires bundle size 2, got %d: %w",
			cfg.BundleSize, err)
	}
	if cfg.TSC != config.TSCOff {
		log.Warn().Str("tsc", cfg.TSC).Msg("in LAME TSC measurement mode")
	}

	fd, err := unix.Open(lameDevPath, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrKernelRegister, lameDevPath, err)
	}
	defer unix.Close(fd)

	arg := lameArg{Present: 1, HandlerAddr: addr}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd),
		lameIoctlRequest(mode), uintptr(unsafe.Pointer(&arg))); errno != 0 {
		return fmt.Errorf("%w: ioctl: %v", ErrKernelRegister, errno)
	}

	log.Info().
		Uint64("handler_addr", addr).
		Int("bundle_size", cfg.BundleSize).
		Str("mode", cfg.Register).
		Msg("LAME handler registered")
	return nil
}
