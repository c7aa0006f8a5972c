//go:build linux

package memlock

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSupported(t *testing.T) {
	if !Supported() {
		t.Error("expected memory locking to be supported on linux")
	}
}

func TestAcquireRelease(t *testing.T) {
	err := Acquire()
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EAGAIN) {
		t.Skipf("memory locking not permitted here: %v", err)
	}
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
}
