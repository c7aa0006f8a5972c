// Package memlock pins process memory before a sweep.
package memlock

// Supported reports whether Acquire actually locks memory on this platform.
func Supported() bool { return supported }
