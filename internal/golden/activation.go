package golden

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

type Activation int

// Values match the activation codes the accelerator driver takes.
const (
	ActivationNone Activation = iota
	ActivationReLU
	ActivationReLU6
)

var activationNames = [...]string{"NONE", "RELU", "RELU6"}

func (a Activation) String() string {
	if a >= 0 && int(a) < len(activationNames) {
		return activationNames[a]
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

func (a Activation) Valid() bool {
	return a >= ActivationNone && a <= ActivationReLU6
}

func ParseActivation(s string) (Activation, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range activationNames {
		if n == name {
			return Activation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown activation %q (want NONE, RELU or RELU6)", s)
}

// ReLU writes max(in, 0) into out; out may alias in.
func ReLU(in, out *matrix.Narrow) {
	for i, v := range in.Data {
		out.Data[i] = max(v, 0)
	}
}

// ReLU6 writes min(max(in, 0), 6*scale) into out; out may alias in. The
// ceiling is compared in 64 bits so a ceiling above the narrow range never
// clamps.
func ReLU6(in, out *matrix.Narrow, scale int64) {
	ceiling := 6 * scale
	for i, v := range in.Data {
		positive := int64(max(v, 0))
		out.Data[i] = int32(min(positive, ceiling))
	}
}

// Activate applies act to in, writing into out. relu6Shift sets the RELU6
// scale to 2^relu6Shift and is ignored by the other activations.
func Activate(in, out *matrix.Narrow, act Activation, relu6Shift uint) error {
	if !matrix.SameShape(in, out) {
		return &ShapeError{Op: "activate", Want: in.Shape(), Got: out.Shape()}
	}
	switch act {
	case ActivationNone:
		if out != in {
			copy(out.Data, in.Data)
		}
	case ActivationReLU:
		ReLU(in, out)
	case ActivationReLU6:
		if relu6Shift > config.MaxRelu6Shift {
			// The ceiling is above every int32 value.
			ReLU(in, out)
			break
		}
		ReLU6(in, out, int64(1)<<relu6Shift)
	default:
		return fmt.Errorf("activate: unsupported %v", act)
	}
	return nil
}
