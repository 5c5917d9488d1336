//go:build !linux

package sched

import (
	"fmt"

	"lame_sched/internal/config"
)

// Register is unavailable without the Linux kernel control device.
func Register(cfg *config.LameConfig) error {
	if cfg.Register == config.RegisterNone {
		return nil
	}
	return fmt.Errorf("%w: no kernel control device on this platform", ErrKernelRegister)
}
