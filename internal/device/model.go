package device

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/golden"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

// Model is a software model of the accelerator. It walks the matmul in tiles
// using the loop order of the requested dataflow, then requantizes at the
// configured shift and applies the activation.
type Model struct {
	Tile int
	Elem config.Range
}

func NewModel(tile int, elem config.Range) *Model {
	if tile <= 0 {
		tile = 16
	}
	return &Model{Tile: tile, Elem: elem}
}

func (m *Model) Name() string {
	return fmt.Sprintf("model(tile=%d)", m.Tile)
}

func (m *Model) TiledMatmul(ctx context.Context, dims config.Dims, a, b, d, out *matrix.Narrow, cfg Config) error {
	if err := CheckShapes(dims, a, b, d, out); err != nil {
		return err
	}
	if !cfg.Dataflow.Valid() {
		return fmt.Errorf("model: unsupported %v", cfg.Dataflow)
	}
	if !cfg.Activation.Valid() {
		return fmt.Errorf("model: unsupported %v", cfg.Activation)
	}

	acc := matrix.New[int64](dims.I, dims.J)
	if !cfg.NoBias {
		for i, v := range d.Data {
			acc.Data[i] = int64(v)
		}
	}

	var err error
	switch cfg.Dataflow {
	case OS:
		err = m.outputStationary(ctx, a, b, acc)
	case WS:
		err = m.weightStationary(ctx, a, b, acc)
	case CPU:
		err = hostMatmul(ctx, a, b, acc)
	}
	if err != nil {
		return err
	}

	golden.RequantizeInto(out, acc, cfg.Shift, m.Elem)
	return golden.Activate(out, out, cfg.Activation, cfg.Relu6Shift)
}

// outputStationary finishes each output tile over the full K extent before
// moving to the next one.
func (m *Model) outputStationary(ctx context.Context, a, b *matrix.Narrow, acc *matrix.Wide) error {
	t := m.Tile
	tile := make([]int64, t*t)
	for i0 := 0; i0 < acc.Rows; i0 += t {
		if err := ctx.Err(); err != nil {
			return err
		}
		iN := min(i0+t, acc.Rows)
		for j0 := 0; j0 < acc.Cols; j0 += t {
			jN := min(j0+t, acc.Cols)

			for i := i0; i < iN; i++ {
				copy(tile[(i-i0)*t:(i-i0)*t+jN-j0], acc.Row(i)[j0:jN])
			}
			for k0 := 0; k0 < a.Cols; k0 += t {
				kN := min(k0+t, a.Cols)
				for i := i0; i < iN; i++ {
					trow := tile[(i-i0)*t:]
					for k := k0; k < kN; k++ {
						av := int64(a.At(i, k))
						brow := b.Row(k)
						for j := j0; j < jN; j++ {
							trow[j-j0] += av * int64(brow[j])
						}
					}
				}
			}
			for i := i0; i < iN; i++ {
				copy(acc.Row(i)[j0:jN], tile[(i-i0)*t:(i-i0)*t+jN-j0])
			}
		}
	}
	return nil
}

// weightStationary loads each B tile once and streams every row of A past it.
func (m *Model) weightStationary(ctx context.Context, a, b *matrix.Narrow, acc *matrix.Wide) error {
	t := m.Tile
	for k0 := 0; k0 < b.Rows; k0 += t {
		if err := ctx.Err(); err != nil {
			return err
		}
		kN := min(k0+t, b.Rows)
		for j0 := 0; j0 < b.Cols; j0 += t {
			jN := min(j0+t, b.Cols)
			for i := 0; i < acc.Rows; i++ {
				arow := a.Row(i)
				orow := acc.Row(i)
				for j := j0; j < jN; j++ {
					sum := orow[j]
					for k := k0; k < kN; k++ {
						sum += int64(arow[k]) * int64(b.At(k, j))
					}
					orow[j] = sum
				}
			}
		}
	}
	return nil
}

func hostMatmul(ctx context.Context, a, b *matrix.Narrow, acc *matrix.Wide) error {
	for i := 0; i < acc.Rows; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for j := 0; j < acc.Cols; j++ {
			sum := acc.At(i, j)
			for k := 0; k < a.Cols; k++ {
				sum += int64(a.At(i, k)) * int64(b.At(k, j))
			}
			acc.Set(i, j, sum)
		}
	}
	return nil
}
