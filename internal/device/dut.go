// Package device defines the accelerator under test as a capability and
// provides the backends the harness can drive: an in-process software model,
// an external simulator process and a remote Arrow Flight endpoint.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/golden"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

// Dataflow is the algorithmic strategy the accelerator uses for a tiled matmul.
type Dataflow int

const (
	// OS keeps output tiles stationary in the array.
	OS Dataflow = iota
	// WS keeps weight tiles stationary in the array.
	WS
	// CPU runs the matmul on the host core.
	CPU
)

var dataflowNames = [...]string{"OS", "WS", "CPU"}

func (d Dataflow) String() string {
	if d >= 0 && int(d) < len(dataflowNames) {
		return dataflowNames[d]
	}
	return fmt.Sprintf("Dataflow(%d)", int(d))
}

func (d Dataflow) Valid() bool {
	return d >= OS && d <= CPU
}

func ParseDataflow(s string) (Dataflow, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range dataflowNames {
		if n == name {
			return Dataflow(i), nil
		}
	}
	return 0, fmt.Errorf("unknown dataflow %q (want OS, WS or CPU)", s)
}

// Config is one point of the sweep as the device sees it.
type Config struct {
	Dataflow   Dataflow
	Activation golden.Activation
	Shift      uint
	Relu6Shift uint
	NoBias     bool
}

func (c Config) String() string {
	return fmt.Sprintf("dataflow=%s activation=%s shift=%d relu6_shift=%d no_bias=%t",
		c.Dataflow, c.Activation, c.Shift, c.Relu6Shift, c.NoBias)
}

// Device computes out = act(requant(D + A·B)) for a trial configuration.
// A is I×K, B is K×J, D and out are I×J. Implementations must overwrite every
// element of out.
type Device interface {
	Name() string
	TiledMatmul(ctx context.Context, dims config.Dims, a, b, d, out *matrix.Narrow, cfg Config) error
}

// Flusher is implemented by devices that need a one-time reset before a sweep.
type Flusher interface {
	Flush(ctx context.Context) error
}

var ErrShape = errors.New("operand shape mismatch")

type ShapeError struct {
	Operand string
	Want    string
	Got     string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: want %s, got %s", e.Operand, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

// CheckShapes validates the four buffers of a TiledMatmul call against dims.
func CheckShapes(dims config.Dims, a, b, d, out *matrix.Narrow) error {
	checks := []struct {
		name       string
		m          *matrix.Narrow
		rows, cols int
	}{
		{"A", a, dims.I, dims.K},
		{"B", b, dims.K, dims.J},
		{"D", d, dims.I, dims.J},
		{"C", out, dims.I, dims.J},
	}
	for _, c := range checks {
		if !c.m.HasShape(c.rows, c.cols) {
			got := "nil"
			if c.m != nil {
				got = c.m.Shape()
			}
			return &ShapeError{Operand: c.name, Want: fmt.Sprintf("%dx%d", c.rows, c.cols), Got: got}
		}
	}
	return nil
}
