package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/longbow-tilecheck/internal/device"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

// ErrMismatch is wrapped by every error reporting a device result that
// differs from the golden result.
var ErrMismatch = errors.New("device result differs from golden result")

// MismatchError describes one failed trial.
type MismatchError struct {
	Index      int
	Config     device.Config
	Mismatched int
	First      matrix.Mismatch
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("trial %d (%s): %d mismatched elements, first at %s", e.Index, e.Config, e.Mismatched, e.First)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// TrialResult is the outcome of one configuration.
type TrialResult struct {
	Index    int
	Config   device.Config
	Passed   bool
	Err      error
	Duration time.Duration
}

// Report summarizes a sweep.
type Report struct {
	Device   string
	Trials   int
	Run      int
	Passed   int
	Failures []*MismatchError
	Err      error
	Duration time.Duration
}

// OK reports whether every configured trial ran and matched.
func (r *Report) OK() bool {
	return r.Err == nil && len(r.Failures) == 0 && r.Run == r.Trials && r.Passed == r.Trials
}

// ExitCode maps the report to the process exit status: 0 when every trial
// matched, 1 otherwise.
func (r *Report) ExitCode() int {
	if r.OK() {
		return 0
	}
	return 1
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: %d/%d trials run, %d passed, %d failed in %s",
		r.Device, r.Run, r.Trials, r.Passed, len(r.Failures), r.Duration.Round(time.Millisecond))
}
