package matrix

import "fmt"

// Equal reports whether x and y have the same shape and every element pair is
// identical.
func Equal[T Element](x, y *Matrix[T]) bool {
	if !SameShape(x, y) || len(x.Data) != len(y.Data) {
		return false
	}
	for i := range x.Data {
		if x.Data[i] != y.Data[i] {
			return false
		}
	}
	return true
}

// Mismatch is one differing element of a comparison.
type Mismatch struct {
	Row  int
	Col  int
	Got  int64
	Want int64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("[%d][%d] got %d want %d", m.Row, m.Col, m.Got, m.Want)
}

// Diff returns the total number of differing elements of got against want and
// at most limit of them in row-major order. A negative limit keeps all of them.
// Shapes must match.
func Diff[T Element](got, want *Matrix[T], limit int) (int, []Mismatch) {
	if !SameShape(got, want) {
		panic(fmt.Sprintf("matrix: diff of %s against %s", got.Shape(), want.Shape()))
	}
	var (
		count int
		out   []Mismatch
	)
	for i := range got.Data {
		if got.Data[i] == want.Data[i] {
			continue
		}
		count++
		if limit < 0 || len(out) < limit {
			out = append(out, Mismatch{
				Row:  i / got.Cols,
				Col:  i % got.Cols,
				Got:  int64(got.Data[i]),
				Want: int64(want.Data[i]),
			})
		}
	}
	return count, out
}

// FirstMismatch returns the first differing element in row-major order.
func FirstMismatch[T Element](got, want *Matrix[T]) (Mismatch, bool) {
	n, ms := Diff(got, want, 1)
	if n == 0 {
		return Mismatch{}, false
	}
	return ms[0], true
}
