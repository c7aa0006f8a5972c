package device

import (
	"context"
	"fmt"
	"io"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/golden"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
	"github.com/23skdu/longbow-tilecheck/internal/transport"
)

// NewJob packages one TiledMatmul call for an out-of-process backend.
func NewJob(dims config.Dims, a, b, d *matrix.Narrow, cfg Config) *transport.Job {
	return &transport.Job{
		Header: transport.Header{
			I:          dims.I,
			K:          dims.K,
			J:          dims.J,
			Dataflow:   cfg.Dataflow.String(),
			Activation: int(cfg.Activation),
			Shift:      cfg.Shift,
			Relu6Shift: cfg.Relu6Shift,
			NoBias:     cfg.NoBias,
		},
		A: a,
		B: b,
		D: d,
	}
}

// FromHeader recovers the dims and trial configuration of a job.
func FromHeader(h transport.Header) (config.Dims, Config, error) {
	dims := config.Dims{I: h.I, K: h.K, J: h.J}
	df, err := ParseDataflow(h.Dataflow)
	if err != nil {
		return dims, Config{}, err
	}
	act := golden.Activation(h.Activation)
	if !act.Valid() {
		return dims, Config{}, fmt.Errorf("unknown activation code %d", h.Activation)
	}
	if h.Shift > config.MaxShift {
		return dims, Config{}, fmt.Errorf("invalid shift: %d (must be in [0,%d])", h.Shift, config.MaxShift)
	}
	if h.Relu6Shift > config.MaxRelu6Shift {
		return dims, Config{}, fmt.Errorf("invalid relu6 shift: %d (must be in [0,%d])", h.Relu6Shift, config.MaxRelu6Shift)
	}
	return dims, Config{
		Dataflow:   df,
		Activation: act,
		Shift:      h.Shift,
		Relu6Shift: h.Relu6Shift,
		NoBias:     h.NoBias,
	}, nil
}

// Run executes a decoded job on dev.
func Run(ctx context.Context, dev Device, job *transport.Job) (*transport.Result, error) {
	dims, cfg, err := FromHeader(job.Header)
	if err != nil {
		return nil, err
	}
	out := matrix.New[int32](dims.I, dims.J)
	if err := dev.TiledMatmul(ctx, dims, job.A, job.B, job.D, out, cfg); err != nil {
		return nil, err
	}
	return &transport.Result{C: out}, nil
}

// ServeStream reads one job from r, runs it on dev and writes the result to w.
// It is the simulator side of the Exec backend.
func ServeStream(ctx context.Context, dev Device, r io.Reader, w io.Writer) error {
	job, err := transport.ReadJob(r)
	if err != nil {
		return err
	}
	res, err := Run(ctx, dev, job)
	if err != nil {
		return err
	}
	return transport.WriteResult(w, res)
}

// NewService exposes dev as a Flight service.
func NewService(dev Device) *transport.Service {
	var flush transport.FlushFunc
	if f, ok := dev.(Flusher); ok {
		flush = f.Flush
	}
	return transport.NewService(func(ctx context.Context, job *transport.Job) (*transport.Result, error) {
		return Run(ctx, dev, job)
	}, flush)
}

func copyResult(out, got *matrix.Narrow) error {
	if !matrix.SameShape(out, got) {
		return &ShapeError{Operand: "C", Want: out.Shape(), Got: got.Shape()}
	}
	copy(out.Data, got.Data)
	return nil
}
