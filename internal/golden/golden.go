// Package golden computes the trusted software result that accelerator output
// is compared against: an exact matmul with bias, round-half-away-from-zero
// requantization with saturation, and an optional activation.
package golden

import (
	"fmt"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

// ShapeError reports operands whose extents do not chain.
type ShapeError struct {
	Op   string
	Want string
	Got  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %s, got %s", e.Op, e.Want, e.Got)
}

// MatMul returns D + A·B in exact 64-bit arithmetic. The caller picks
// dimensions and operand ranges that cannot overflow.
func MatMul(a, b, d *matrix.Narrow) (*matrix.Wide, error) {
	if a.Cols != b.Rows {
		return nil, &ShapeError{Op: "matmul", Want: fmt.Sprintf("B with %d rows", a.Cols), Got: b.Shape()}
	}
	if !d.HasShape(a.Rows, b.Cols) {
		return nil, &ShapeError{Op: "matmul", Want: fmt.Sprintf("D %dx%d", a.Rows, b.Cols), Got: d.Shape()}
	}

	out := matrix.New[int64](a.Rows, b.Cols)
	for r := 0; r < a.Rows; r++ {
		arow := a.Row(r)
		orow := out.Row(r)
		for c, bias := range d.Row(r) {
			orow[c] = int64(bias)
		}
		for k, av := range arow {
			if av == 0 {
				continue
			}
			brow := b.Row(k)
			for c := range orow {
				orow[c] += int64(av) * int64(brow[c])
			}
		}
	}
	return out, nil
}

// RoundShift divides v by 2^shift, rounding half away from zero. It is exact
// for every shift, including MinInt64 inputs and shifts of 63 and above.
func RoundShift(v int64, shift uint) int64 {
	if shift == 0 {
		return v
	}
	abs := uint64(v)
	if v < 0 {
		abs = -abs
	}
	var rounded uint64
	switch {
	case shift > 64:
	case shift == 64:
		if abs >= 1<<63 {
			rounded = 1
		}
	default:
		rounded = abs >> shift
		if abs&(1<<(shift-1)) != 0 {
			rounded++
		}
	}
	if v < 0 {
		return -int64(rounded)
	}
	return int64(rounded)
}

// Saturate clamps v into r.
func Saturate(v int64, r config.Range) int64 {
	if v > r.Max {
		return r.Max
	}
	if v < r.Min {
		return r.Min
	}
	return v
}

// Requantize rounds every element of w by 2^shift and saturates it into the
// narrow range elem.
func Requantize(w *matrix.Wide, shift uint, elem config.Range) *matrix.Narrow {
	out := matrix.New[int32](w.Rows, w.Cols)
	RequantizeInto(out, w, shift, elem)
	return out
}

// RequantizeInto is Requantize writing into a caller-provided matrix of the
// same shape.
func RequantizeInto(out *matrix.Narrow, w *matrix.Wide, shift uint, elem config.Range) {
	for i, v := range w.Data {
		out.Data[i] = int32(Saturate(RoundShift(v, shift), elem))
	}
}
