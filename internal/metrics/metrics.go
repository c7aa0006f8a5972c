package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecheck_trials_total",
		Help: "Trials executed, by dataflow, activation and outcome",
	}, []string{"dataflow", "activation", "result"})

	MismatchedElements = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilecheck_mismatched_elements",
		Help:    "Number of differing output elements in a failed trial",
		Buckets: []float64{1, 2, 4, 16, 64, 256, 1024, 4096, 16384, 65536},
	})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilecheck_phase_duration_seconds",
		Help:    "Duration of each trial phase",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"phase"})

	SweepProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilecheck_sweep_progress_ratio",
		Help: "Fraction of the configuration sweep completed",
	})

	DeviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecheck_device_errors_total",
		Help: "Device calls that returned an error",
	}, []string{"device"})
)

// Trial outcomes used for the result label.
const (
	ResultPass     = "pass"
	ResultMismatch = "mismatch"
	ResultError    = "error"
)

// Phase names used for the phase label.
const (
	PhaseGenerate = "generate"
	PhaseGolden   = "golden"
	PhaseDevice   = "device"
	PhaseCompare  = "compare"
)

func RecordTrial(dataflow, activation, result string) {
	TrialsTotal.WithLabelValues(dataflow, activation, result).Inc()
}

func RecordMismatch(elements int) {
	if elements > 0 {
		MismatchedElements.Observe(float64(elements))
	}
}

func RecordPhase(phase string, d time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordProgress sets the sweep gauge to done/total.
func RecordProgress(done, total int) {
	if total <= 0 {
		SweepProgress.Set(0)
		return
	}
	SweepProgress.Set(float64(done) / float64(total))
}

func RecordDeviceError(device string) {
	DeviceErrors.WithLabelValues(device).Inc()
}
