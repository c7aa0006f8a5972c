//go:build !linux

package memlock

const supported = false

// Acquire is a no-op on platforms without mlockall.
func Acquire() error { return nil }

func Release() error { return nil }
