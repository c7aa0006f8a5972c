package matrix

import (
	"fmt"
	"math/rand/v2"
)

// pcgStream is the fixed PCG increment; only the seed varies between runs.
const pcgStream = 0x7469_6c65_6368_6b00

// Generator draws operand values uniformly from [Lo, Hi]. The draw sequence
// depends only on the seed and the order of Fill calls.
type Generator struct {
	rng   *rand.Rand
	lo    int32
	span  int
	draws uint64
}

func NewGenerator(seed uint64, lo, hi int32) *Generator {
	if lo > hi {
		panic(fmt.Sprintf("matrix: generator range [%d,%d] is empty", lo, hi))
	}
	return &Generator{
		rng:  rand.New(rand.NewPCG(seed, pcgStream)),
		lo:   lo,
		span: int(int64(hi) - int64(lo) + 1),
	}
}

// Fill overwrites every element of m in row-major order.
func (g *Generator) Fill(m *Narrow) {
	for i := range m.Data {
		m.Data[i] = g.next()
	}
}

func (g *Generator) next() int32 {
	g.draws++
	return g.lo + int32(g.rng.IntN(g.span))
}

// Draws is the number of values produced so far.
func (g *Generator) Draws() uint64 {
	return g.draws
}
