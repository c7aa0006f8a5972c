// Package transport moves tiled matmul jobs and their results between the
// harness and out-of-process accelerator backends as Arrow record batches,
// either over a byte stream (IPC) or over Arrow Flight.
package transport

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

const (
	metaJob    = "tilecheck.job"
	metaResult = "tilecheck.result"
	valuesName = "values"
)

// Header carries the trial configuration alongside the operands.
type Header struct {
	I          int    `json:"i"`
	K          int    `json:"k"`
	J          int    `json:"j"`
	Dataflow   string `json:"dataflow"`
	Activation int    `json:"activation"`
	Shift      uint   `json:"shift"`
	Relu6Shift uint   `json:"relu6_shift"`
	NoBias     bool   `json:"no_bias"`
}

// Job is one device invocation: A (I×K), B (K×J) and D (I×J).
type Job struct {
	Header Header
	A      *matrix.Narrow
	B      *matrix.Narrow
	D      *matrix.Narrow
}

// Result is the device output for a Job.
type Result struct {
	C *matrix.Narrow
}

type shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type recordWriter interface {
	Write(rec arrow.Record) error
	Close() error
}

type recordReader interface {
	Next() bool
	Record() arrow.Record
	Err() error
	Schema() *arrow.Schema
}

func valuesSchema(key string, meta any) (*arrow.Schema, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode %s metadata: %w", key, err)
	}
	md := arrow.NewMetadata([]string{key}, []string{string(raw)})
	return arrow.NewSchema([]arrow.Field{
		{Name: valuesName, Type: arrow.PrimitiveTypes.Int32},
	}, &md), nil
}

func jobSchema(h Header) (*arrow.Schema, error) {
	return valuesSchema(metaJob, h)
}

func resultSchema(c *matrix.Narrow) (*arrow.Schema, error) {
	return valuesSchema(metaResult, shape{Rows: c.Rows, Cols: c.Cols})
}

func (j *Job) validate() error {
	h := j.Header
	for _, c := range []struct {
		name       string
		m          *matrix.Narrow
		rows, cols int
	}{
		{"A", j.A, h.I, h.K},
		{"B", j.B, h.K, h.J},
		{"D", j.D, h.I, h.J},
	} {
		if !c.m.HasShape(c.rows, c.cols) {
			return fmt.Errorf("job operand %s: want %dx%d", c.name, c.rows, c.cols)
		}
	}
	return nil
}

func writeMatrix(w recordWriter, schema *arrow.Schema, mem memory.Allocator, m *matrix.Narrow) error {
	bld := array.NewInt32Builder(mem)
	defer bld.Release()
	bld.AppendValues(m.Data, nil)
	arr := bld.NewInt32Array()
	defer arr.Release()

	rec := array.NewRecord(schema, []arrow.Array{arr}, int64(arr.Len()))
	defer rec.Release()
	return w.Write(rec)
}

func readMatrix(r recordReader, rows, cols int) (*matrix.Narrow, error) {
	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}
	rec := r.Record()
	if rec.NumCols() != 1 {
		return nil, fmt.Errorf("record has %d columns, want 1", rec.NumCols())
	}
	col, ok := rec.Column(0).(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("column %q has type %s, want int32", valuesName, rec.Column(0).DataType())
	}
	if col.NullN() > 0 {
		return nil, fmt.Errorf("column %q has %d nulls", valuesName, col.NullN())
	}
	vals := col.Int32Values()
	if len(vals) != rows*cols {
		return nil, fmt.Errorf("record has %d values, want %dx%d", len(vals), rows, cols)
	}
	m := matrix.New[int32](rows, cols)
	copy(m.Data, vals)
	return m, nil
}

func schemaMeta(s *arrow.Schema, key string, v any) error {
	raw, ok := s.Metadata().GetValue(key)
	if !ok {
		return fmt.Errorf("stream schema lacks %q metadata", key)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s metadata: %w", key, err)
	}
	return nil
}

func writeJob(w recordWriter, schema *arrow.Schema, mem memory.Allocator, job *Job) error {
	for _, m := range []*matrix.Narrow{job.A, job.B, job.D} {
		if err := writeMatrix(w, schema, mem, m); err != nil {
			return fmt.Errorf("write job: %w", err)
		}
	}
	return nil
}

func readJob(r recordReader) (*Job, error) {
	job := &Job{}
	if err := schemaMeta(r.Schema(), metaJob, &job.Header); err != nil {
		return nil, err
	}
	h := job.Header
	if h.I <= 0 || h.K <= 0 || h.J <= 0 {
		return nil, fmt.Errorf("job header has invalid dims %dx%dx%d", h.I, h.K, h.J)
	}
	var err error
	if job.A, err = readMatrix(r, h.I, h.K); err != nil {
		return nil, fmt.Errorf("read A: %w", err)
	}
	if job.B, err = readMatrix(r, h.K, h.J); err != nil {
		return nil, fmt.Errorf("read B: %w", err)
	}
	if job.D, err = readMatrix(r, h.I, h.J); err != nil {
		return nil, fmt.Errorf("read D: %w", err)
	}
	return job, nil
}

func writeResult(w recordWriter, schema *arrow.Schema, mem memory.Allocator, res *Result) error {
	if err := writeMatrix(w, schema, mem, res.C); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func readResult(r recordReader) (*Result, error) {
	var s shape
	if err := schemaMeta(r.Schema(), metaResult, &s); err != nil {
		return nil, err
	}
	c, err := readMatrix(r, s.Rows, s.Cols)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return &Result{C: c}, nil
}

// WriteJob encodes job as an Arrow IPC stream.
func WriteJob(w io.Writer, job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	schema, err := jobSchema(job.Header)
	if err != nil {
		return err
	}
	mem := memory.DefaultAllocator
	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := writeJob(iw, schema, mem, job); err != nil {
		iw.Close()
		return err
	}
	return iw.Close()
}

// ReadJob decodes a job written by WriteJob.
func ReadJob(r io.Reader) (*Job, error) {
	ir, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open job stream: %w", err)
	}
	defer ir.Release()
	return readJob(ir)
}

// WriteResult encodes res as an Arrow IPC stream.
func WriteResult(w io.Writer, res *Result) error {
	schema, err := resultSchema(res.C)
	if err != nil {
		return err
	}
	mem := memory.DefaultAllocator
	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := writeResult(iw, schema, mem, res); err != nil {
		iw.Close()
		return err
	}
	return iw.Close()
}

// ReadResult decodes a result written by WriteResult.
func ReadResult(r io.Reader) (*Result, error) {
	ir, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open result stream: %w", err)
	}
	defer ir.Release()
	return readResult(ir)
}
