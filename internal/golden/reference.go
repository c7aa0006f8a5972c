package golden

import (
	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

// Params select the requantization and activation applied after the matmul.
type Params struct {
	Shift      uint
	Activation Activation
	Relu6Shift uint
	Elem       config.Range
}

// Reference runs the full pipeline: MatMul, Requantize, Activate. It returns
// the narrow result along with the wide accumulation it was derived from.
func Reference(a, b, d *matrix.Narrow, p Params) (*matrix.Narrow, *matrix.Wide, error) {
	wide, err := MatMul(a, b, d)
	if err != nil {
		return nil, nil, err
	}
	narrow := Requantize(wide, p.Shift, p.Elem)
	if err := Activate(narrow, narrow, p.Activation, p.Relu6Shift); err != nil {
		return nil, nil, err
	}
	return narrow, wide, nil
}
