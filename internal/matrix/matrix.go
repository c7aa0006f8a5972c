// Package matrix holds the dense row-major integer matrices exchanged between
// the reference pipeline, the device under test and the report.
package matrix

import (
	"fmt"
	"strings"
)

type Element interface {
	~int8 | ~int16 | ~int32 | ~int64
}

// Matrix is a dense row-major matrix.
type Matrix[T Element] struct {
	Rows int
	Cols int
	Data []T
}

// Narrow holds operands, biases and final results. Values are kept in int32 so
// element ranges narrower than the storage type can be configured.
type Narrow = Matrix[int32]

// Wide holds exact, unsaturated accumulations.
type Wide = Matrix[int64]

func New[T Element](rows, cols int) *Matrix[T] {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("matrix: negative shape %dx%d", rows, cols))
	}
	return &Matrix[T]{Rows: rows, Cols: cols, Data: make([]T, rows*cols)}
}

// FromRows copies a slice of equal-length rows into a new matrix.
func FromRows[T Element](rows [][]T) *Matrix[T] {
	if len(rows) == 0 {
		return New[T](0, 0)
	}
	m := New[T](len(rows), len(rows[0]))
	for r, row := range rows {
		if len(row) != m.Cols {
			panic(fmt.Sprintf("matrix: ragged row %d: len %d, want %d", r, len(row), m.Cols))
		}
		copy(m.Row(r), row)
	}
	return m
}

func (m *Matrix[T]) At(r, c int) T {
	return m.Data[r*m.Cols+c]
}

func (m *Matrix[T]) Set(r, c int, v T) {
	m.Data[r*m.Cols+c] = v
}

// Row returns row r as a view into m.
func (m *Matrix[T]) Row(r int) []T {
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

// Reset zeroes every element.
func (m *Matrix[T]) Reset() {
	clear(m.Data)
}

func (m *Matrix[T]) Clone() *Matrix[T] {
	out := New[T](m.Rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// ToRows copies m into a slice of rows.
func (m *Matrix[T]) ToRows() [][]T {
	out := make([][]T, m.Rows)
	for r := range out {
		out[r] = append([]T(nil), m.Row(r)...)
	}
	return out
}

func (m *Matrix[T]) Shape() string {
	return fmt.Sprintf("%dx%d", m.Rows, m.Cols)
}

func (m *Matrix[T]) HasShape(rows, cols int) bool {
	return m != nil && m.Rows == rows && m.Cols == cols && len(m.Data) == rows*cols
}

func (m *Matrix[T]) String() string {
	var sb strings.Builder
	_ = Fprint(&sb, m)
	return sb.String()
}

// SameShape reports whether a and b have identical extents.
func SameShape[T, U Element](a *Matrix[T], b *Matrix[U]) bool {
	return a.Rows == b.Rows && a.Cols == b.Cols
}
