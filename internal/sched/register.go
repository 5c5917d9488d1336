package sched

import (
	"reflect"

	"lame_sched/internal/config"
)

// Registration plumbing shared across platforms. The kernel control device
// is handed the address of an entry stub and a mode tag; the stub chosen
// encodes both the delivery mode and the handler variant.

// Entry stubs. Each is the jump target the kernel delivery lands on for one
// registration choice; their addresses are the ioctl payload. The bundle
// size 2 stub runs the same switching handler, and the same Next selector,
// as the general stub.
func lameEntry()  { Handle(0) }
func lameEntry2() { Handle(0) }

func lameEntry2Pretend() {
	if w := CurrentWorker(); w != nil {
		stallUntil(Cputicks() + pretendStallCycles)
		w.handleSwitch(0)
	}
}

func lameEntryNop() {}

func lameEntryBret() {
	if w := CurrentWorker(); w != nil {
		w.handleSwitch(0)
		w.HandleBretSlowpath()
	}
}

func lameEntryStallBret() {
	if w := CurrentWorker(); w != nil {
		w.LameStall()
		w.HandleBretSlowpath()
	}
}

func lameEntryNopBret() {
	if w := CurrentWorker(); w != nil {
		w.HandleBretSlowpath()
	}
}

// stubAddr returns the entry address of a stub function.
func stubAddr(fn func()) uint64 {
	return uint64(reflect.ValueOf(fn).Pointer())
}

// Kernel mode tags: the ioctl command numbers for the two delivery modes.
const (
	lameRegisterInt uint32 = 0x01
	lameRegisterPMU uint32 = 0x02
)

// entryStubFor picks the stub address and kernel mode tag for the
// configured registration, mirroring the delivery selection rules: TSC
// measurement modes replace the switching stub, and the PMU-driven stall
// and nop registrations share the PMU mode tag.
func entryStubFor(cfg *config.LameConfig) (addr uint64, mode uint32, err error) {
	if cfg.TSC != config.TSCOff {
		if cfg.BundleSize != 2 {
			return 0, 0, ErrInvalidConfig
		}
		if cfg.TSC == config.TSCPretend {
			addr = stubAddr(lameEntry2Pretend)
		} else {
			addr = stubAddr(lameEntryNop)
		}
	} else if cfg.BundleSize == 2 {
		addr = stubAddr(lameEntry2)
	} else {
		addr = stubAddr(lameEntry)
	}

	switch cfg.Register {
	case config.RegisterInt:
		mode = lameRegisterInt
	case config.RegisterPMU:
		mode = lameRegisterPMU
		addr = stubAddr(lameEntryBret)
	case config.RegisterStall:
		// pmu, stall, nop use the same kernel register mode
		mode = lameRegisterPMU
		addr = stubAddr(lameEntryStallBret)
	case config.RegisterNop:
		mode = lameRegisterPMU
		addr = stubAddr(lameEntryNopBret)
	}
	return addr, mode, nil
}

// VariantForConfig maps the configured registration and measurement mode to
// the handler variant workers should run.
func VariantForConfig(cfg *config.LameConfig) Variant {
	switch {
	case cfg.Register == config.RegisterStall:
		return VariantStall
	case cfg.Register == config.RegisterNop:
		return VariantNop
	case cfg.TSC == config.TSCPretend:
		return VariantSwitchPretend
	case cfg.TSC == config.TSCNop:
		return VariantNop
	default:
		return VariantSwitch
	}
}
