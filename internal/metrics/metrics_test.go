package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTrial(t *testing.T) {
	c := TrialsTotal.WithLabelValues("WS", "RELU6", ResultMismatch)
	before := testutil.ToFloat64(c)

	RecordTrial("WS", "RELU6", ResultMismatch)
	RecordTrial("WS", "RELU6", ResultMismatch)

	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}

func TestRecordProgress(t *testing.T) {
	tests := []struct {
		done, total int
		expect      float64
	}{
		{0, 162, 0},
		{81, 162, 0.5},
		{162, 162, 1},
		{3, 0, 0},
	}
	for _, tt := range tests {
		RecordProgress(tt.done, tt.total)
		if got := testutil.ToFloat64(SweepProgress); got != tt.expect {
			t.Errorf("progress %d/%d: expected %v, got %v", tt.done, tt.total, tt.expect, got)
		}
	}
}

func TestRecordDeviceError(t *testing.T) {
	c := DeviceErrors.WithLabelValues("remote(dut:3000)")
	before := testutil.ToFloat64(c)
	RecordDeviceError("remote(dut:3000)")
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestHistogramsCollect(t *testing.T) {
	RecordPhase(PhaseGolden, 3*time.Millisecond)
	RecordPhase(PhaseDevice, 5*time.Millisecond)
	RecordMismatch(0)
	RecordMismatch(17)

	if n := testutil.CollectAndCount(PhaseDuration); n < 2 {
		t.Errorf("expected at least 2 phase series, got %d", n)
	}
	if n := testutil.CollectAndCount(MismatchedElements); n != 1 {
		t.Errorf("expected 1 mismatch series, got %d", n)
	}
}
