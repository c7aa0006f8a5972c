package matrix

import (
	"bufio"
	"io"
	"strconv"
)

// Fprint writes m one row per line, each value followed by a space.
func Fprint[T Element](w io.Writer, m *Matrix[T]) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 24)
	for r := 0; r < m.Rows; r++ {
		for _, v := range m.Row(r) {
			buf = strconv.AppendInt(buf[:0], int64(v), 10)
			buf = append(buf, ' ')
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
