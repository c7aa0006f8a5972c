package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/device"
	"github.com/23skdu/longbow-tilecheck/internal/golden"
	"github.com/23skdu/longbow-tilecheck/internal/logger"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
	"github.com/23skdu/longbow-tilecheck/internal/metrics"
)

// Observer is notified as the sweep progresses. Callbacks run on the sweep
// goroutine.
type Observer interface {
	SweepStarted(device string, trials int)
	TrialDone(res TrialResult)
	SweepDone(rep *Report)
}

// Harness runs every configured trial against one device and compares the
// result with the golden pipeline.
type Harness struct {
	cfg       config.Config
	dev       device.Device
	configs   []device.Config
	dump      io.Writer
	log       *logger.Logger
	observers []Observer
	gen       *matrix.Generator
}

type Option func(*Harness)

// WithDump sets the sink for mismatch dumps. The default is stdout.
func WithDump(w io.Writer) Option {
	return func(h *Harness) { h.dump = w }
}

func WithLogger(l *logger.Logger) Option {
	return func(h *Harness) { h.log = l }
}

func WithObserver(o Observer) Option {
	return func(h *Harness) { h.observers = append(h.observers, o) }
}

func New(cfg config.Config, dev device.Device, opts ...Option) (*Harness, error) {
	if dev == nil {
		return nil, errors.New("harness: nil device")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	configs, err := Configurations(&cfg)
	if err != nil {
		return nil, err
	}
	h := &Harness{
		cfg:     cfg,
		dev:     dev,
		configs: configs,
		dump:    os.Stdout,
		gen:     matrix.NewGenerator(cfg.Seed, int32(cfg.Operand.Min), int32(cfg.Operand.Max)),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Log
	}
	return h, nil
}

// Configurations returns the trial configurations in execution order.
func (h *Harness) Configurations() []device.Config {
	return h.configs
}

// Draws is the number of values taken from the operand generator so far.
func (h *Harness) Draws() uint64 {
	return h.gen.Draws()
}

// Run executes the sweep. In fail-fast mode it stops at the first mismatch
// and returns a *MismatchError. In accumulate mode it runs every trial and
// returns an error wrapping ErrMismatch when any failed. Device errors end
// the sweep in both modes. The report is always non-nil.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{Device: h.dev.Name(), Trials: len(h.configs)}
	for _, o := range h.observers {
		o.SweepStarted(rep.Device, rep.Trials)
	}
	err := h.sweep(ctx, rep)
	rep.Err = err
	rep.Duration = time.Since(start)
	for _, o := range h.observers {
		o.SweepDone(rep)
	}
	if err == nil && len(rep.Failures) > 0 {
		err = fmt.Errorf("%d of %d trials failed: %w", len(rep.Failures), rep.Trials, ErrMismatch)
	}
	return rep, err
}

func (h *Harness) sweep(ctx context.Context, rep *Report) error {
	if f, ok := h.dev.(device.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", rep.Device, err)
		}
	}
	metrics.RecordProgress(0, rep.Trials)

	dumps := 0
	for i, tc := range h.configs {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.log.Info("trial", "index", i, "of", rep.Trials, "config", tc.String())

		res, mm, err := h.trial(ctx, i, tc, dumps)
		rep.Run++
		for _, o := range h.observers {
			o.TrialDone(res)
		}
		metrics.RecordProgress(rep.Run, rep.Trials)
		if err != nil {
			return err
		}
		if mm == nil {
			rep.Passed++
			continue
		}
		dumps++
		rep.Failures = append(rep.Failures, mm)
		h.log.Error("mismatch", "index", i, "config", tc.String(), "mismatched", mm.Mismatched, "first", mm.First.String())
		if h.cfg.Mode == config.ModeFailFast {
			return mm
		}
	}
	return nil
}

// trial runs one configuration on freshly allocated matrices. A mismatch is
// returned as the second value; the error is reserved for failures that end
// the sweep.
func (h *Harness) trial(ctx context.Context, index int, tc device.Config, dumps int) (TrialResult, *MismatchError, error) {
	start := time.Now()
	res := TrialResult{Index: index, Config: tc}
	dims := h.cfg.Dims
	df, act := tc.Dataflow.String(), tc.Activation.String()

	phase := time.Now()
	a := matrix.New[int32](dims.I, dims.K)
	b := matrix.New[int32](dims.K, dims.J)
	d := matrix.New[int32](dims.I, dims.J)
	out := matrix.New[int32](dims.I, dims.J)
	h.gen.Fill(a)
	h.gen.Fill(b)
	if tc.NoBias {
		d.Reset()
	} else {
		h.gen.Fill(d)
	}
	metrics.RecordPhase(metrics.PhaseGenerate, time.Since(phase))

	h.log.Debug("starting golden computation", "index", index)
	phase = time.Now()
	shift := uint(0)
	if h.cfg.GoldenShift == config.GoldenShiftMatched {
		shift = tc.Shift
	}
	gold, _, err := golden.Reference(a, b, d, golden.Params{
		Shift:      shift,
		Activation: tc.Activation,
		Relu6Shift: tc.Relu6Shift,
		Elem:       h.cfg.Elem,
	})
	if err != nil {
		return h.finish(res, start, metrics.ResultError, err), nil, fmt.Errorf("trial %d golden: %w", index, err)
	}
	metrics.RecordPhase(metrics.PhaseGolden, time.Since(phase))

	h.log.Debug("starting device computation", "index", index, "device", h.dev.Name())
	phase = time.Now()
	if err := h.dev.TiledMatmul(ctx, dims, a, b, d, out, tc); err != nil {
		metrics.RecordDeviceError(h.dev.Name())
		metrics.RecordTrial(df, act, metrics.ResultError)
		err = fmt.Errorf("trial %d (%s) on %s: %w", index, tc, h.dev.Name(), err)
		return h.finish(res, start, metrics.ResultError, err), nil, err
	}
	metrics.RecordPhase(metrics.PhaseDevice, time.Since(phase))

	phase = time.Now()
	equal := matrix.Equal(out, gold)
	metrics.RecordPhase(metrics.PhaseCompare, time.Since(phase))
	if equal {
		metrics.RecordTrial(df, act, metrics.ResultPass)
		res.Passed = true
		return h.finish(res, start, metrics.ResultPass, nil), nil, nil
	}

	n, first := matrix.Diff(out, gold, 1)
	mm := &MismatchError{Index: index, Config: tc, Mismatched: n, First: first[0]}
	metrics.RecordTrial(df, act, metrics.ResultMismatch)
	metrics.RecordMismatch(n)
	if h.cfg.Mode == config.ModeFailFast || dumps < h.cfg.MaxDumps {
		if err := Dump(h.dump, out, gold); err != nil {
			h.log.Warn("dump failed", "err", err)
		}
	}
	return h.finish(res, start, metrics.ResultMismatch, mm), mm, nil
}

func (h *Harness) finish(res TrialResult, start time.Time, result string, err error) TrialResult {
	res.Duration = time.Since(start)
	res.Err = err
	h.log.Debug("trial done", "index", res.Index, "result", result, "duration", res.Duration)
	return res
}

// Dump writes the device result and the golden result to w, each preceded by
// a label line, followed by a blank line.
func Dump(w io.Writer, got, gold *matrix.Narrow) error {
	if _, err := io.WriteString(w, "C:\n"); err != nil {
		return err
	}
	if err := matrix.Fprint(w, got); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "Gold:\n"); err != nil {
		return err
	}
	if err := matrix.Fprint(w, gold); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
