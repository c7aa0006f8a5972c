//go:build linux

package memlock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const supported = true

// Acquire locks all current and future pages of the process in RAM so that
// page faults cannot perturb device timing during the sweep.
func Acquire() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall failed: %w", err)
	}
	return nil
}

// Release undoes Acquire.
func Release() error {
	return unix.Munlockall()
}
