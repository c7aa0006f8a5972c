package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/golden"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
	"github.com/23skdu/longbow-tilecheck/internal/transport"
)

type operands struct {
	dims    config.Dims
	a, b, d *matrix.Narrow
}

func newOperands(seed uint64, dims config.Dims, lo, hi int32) operands {
	gen := matrix.NewGenerator(seed, lo, hi)
	op := operands{
		dims: dims,
		a:    matrix.New[int32](dims.I, dims.K),
		b:    matrix.New[int32](dims.K, dims.J),
		d:    matrix.New[int32](dims.I, dims.J),
	}
	gen.Fill(op.a)
	gen.Fill(op.b)
	gen.Fill(op.d)
	return op
}

func expected(t *testing.T, op operands, cfg Config) *matrix.Narrow {
	t.Helper()
	d := op.d
	if cfg.NoBias {
		d = matrix.New[int32](op.dims.I, op.dims.J)
	}
	want, _, err := golden.Reference(op.a, op.b, d, golden.Params{
		Shift:      cfg.Shift,
		Activation: cfg.Activation,
		Relu6Shift: cfg.Relu6Shift,
		Elem:       config.Int8Range,
	})
	require.NoError(t, err)
	return want
}

func TestModelMatchesReference(t *testing.T) {
	shapes := []config.Dims{
		{I: 16, K: 16, J: 16},
		{I: 17, K: 33, J: 9},
		{I: 1, K: 40, J: 3},
	}
	for _, dims := range shapes {
		op := newOperands(11, dims, -3, 3)
		for _, df := range []Dataflow{OS, WS, CPU} {
			for _, act := range []golden.Activation{golden.ActivationNone, golden.ActivationReLU, golden.ActivationReLU6} {
				for _, shift := range []uint{0, 1, 6} {
					for _, noBias := range []bool{false, true} {
						cfg := Config{Dataflow: df, Activation: act, Shift: shift, Relu6Shift: 1, NoBias: noBias}
						t.Run(fmt.Sprintf("%s/%s", dims, cfg), func(t *testing.T) {
							out := matrix.New[int32](dims.I, dims.J)
							m := NewModel(8, config.Int8Range)
							require.NoError(t, m.TiledMatmul(context.Background(), dims, op.a, op.b, op.d, out, cfg))
							want := expected(t, op, cfg)
							if !matrix.Equal(want, out) {
								n, first := matrix.Diff(out, want, 3)
								t.Fatalf("%d mismatches, first %v", n, first)
							}
						})
					}
				}
			}
		}
	}
}

func TestModelNoBiasIgnoresD(t *testing.T) {
	dims := config.Dims{I: 4, K: 4, J: 4}
	op := newOperands(3, dims, -1, 1)
	for i := range op.d.Data {
		op.d.Data[i] = 100
	}

	out := matrix.New[int32](4, 4)
	cfg := Config{Dataflow: OS, NoBias: true}
	require.NoError(t, NewModel(2, config.Int8Range).TiledMatmul(context.Background(), dims, op.a, op.b, op.d, out, cfg))

	zero := matrix.New[int32](4, 4)
	want, _, err := golden.Reference(op.a, op.b, zero, golden.Params{Elem: config.Int8Range})
	require.NoError(t, err)
	assert.Equal(t, want.ToRows(), out.ToRows())
}

func TestModelRejects(t *testing.T) {
	dims := config.Dims{I: 2, K: 2, J: 2}
	op := newOperands(1, dims, -1, 1)
	m := NewModel(0, config.Int8Range)
	assert.Equal(t, 16, m.Tile)

	err := m.TiledMatmul(context.Background(), dims, op.a, op.b, op.d, matrix.New[int32](2, 3), Config{})
	assert.ErrorIs(t, err, ErrShape)
	var se *ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "C", se.Operand)

	err = m.TiledMatmul(context.Background(), dims, op.a, op.b, op.d, matrix.New[int32](2, 2), Config{Dataflow: Dataflow(7)})
	assert.Error(t, err)

	err = m.TiledMatmul(context.Background(), dims, op.a, op.b, op.d, matrix.New[int32](2, 2), Config{Activation: golden.Activation(5)})
	assert.Error(t, err)
}

func TestModelHonoursCancellation(t *testing.T) {
	dims := config.Dims{I: 32, K: 32, J: 32}
	op := newOperands(1, dims, -1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, df := range []Dataflow{OS, WS, CPU} {
		err := NewModel(8, config.Int8Range).TiledMatmul(ctx, dims, op.a, op.b, op.d, matrix.New[int32](32, 32), Config{Dataflow: df})
		assert.ErrorIs(t, err, context.Canceled, df.String())
	}
}

func TestCheckShapes(t *testing.T) {
	dims := config.Dims{I: 2, K: 3, J: 4}
	ok := func() []*matrix.Narrow {
		return []*matrix.Narrow{matrix.New[int32](2, 3), matrix.New[int32](3, 4), matrix.New[int32](2, 4), matrix.New[int32](2, 4)}
	}
	m := ok()
	require.NoError(t, CheckShapes(dims, m[0], m[1], m[2], m[3]))

	for i, name := range []string{"A", "B", "D", "C"} {
		m := ok()
		m[i] = matrix.New[int32](1, 1)
		err := CheckShapes(dims, m[0], m[1], m[2], m[3])
		var se *ShapeError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, name, se.Operand)
	}

	m = ok()
	err := CheckShapes(dims, nil, m[1], m[2], m[3])
	assert.ErrorIs(t, err, ErrShape)
}

func TestParseDataflow(t *testing.T) {
	for _, want := range []Dataflow{OS, WS, CPU} {
		got, err := ParseDataflow(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := ParseDataflow(" ws ")
	require.NoError(t, err)
	assert.Equal(t, WS, got)
	_, err = ParseDataflow("RS")
	assert.Error(t, err)
}

func TestConfigString(t *testing.T) {
	cfg := Config{Dataflow: WS, Activation: golden.ActivationReLU6, Shift: 6, Relu6Shift: 3, NoBias: true}
	assert.Equal(t, "dataflow=WS activation=RELU6 shift=6 relu6_shift=3 no_bias=true", cfg.String())
}

func TestFaulty(t *testing.T) {
	dims := config.Dims{I: 4, K: 4, J: 4}
	op := newOperands(9, dims, -1, 1)
	match, err := ParseSelector("dataflow=WS,activation=RELU")
	require.NoError(t, err)

	f := &Faulty{Inner: NewModel(2, config.Int8Range), Match: match, Row: 1, Col: 2, Elem: config.Int8Range}

	clean := Config{Dataflow: OS, Activation: golden.ActivationReLU}
	out := matrix.New[int32](4, 4)
	require.NoError(t, f.TiledMatmul(context.Background(), dims, op.a, op.b, op.d, out, clean))
	assert.True(t, matrix.Equal(expected(t, op, clean), out))
	assert.Equal(t, 0, f.Injected)

	bad := Config{Dataflow: WS, Activation: golden.ActivationReLU}
	require.NoError(t, f.TiledMatmul(context.Background(), dims, op.a, op.b, op.d, out, bad))
	n, diffs := matrix.Diff(out, expected(t, op, bad), -1)
	require.Equal(t, 1, n)
	assert.Equal(t, 1, diffs[0].Row)
	assert.Equal(t, 2, diffs[0].Col)
	assert.Equal(t, 1, f.Injected)
	assert.Equal(t, "faulty(model(tile=2))", f.Name())
}

func TestFaultyAtCeiling(t *testing.T) {
	dims := config.Dims{I: 1, K: 1, J: 1}
	a := matrix.FromRows([][]int32{{127}})
	b := matrix.FromRows([][]int32{{1}})
	d := matrix.New[int32](1, 1)
	f := &Faulty{Inner: NewModel(1, config.Int8Range), Match: func(Config) bool { return true }, Elem: config.Int8Range}

	out := matrix.New[int32](1, 1)
	require.NoError(t, f.TiledMatmul(context.Background(), dims, a, b, d, out, Config{}))
	assert.Equal(t, int32(126), out.At(0, 0))
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		sel  string
		cfg  Config
		want bool
	}{
		{"", Config{Dataflow: CPU}, true},
		{"dataflow=cpu", Config{Dataflow: CPU}, true},
		{"dataflow=OS", Config{Dataflow: CPU}, false},
		{"shift=6,no_bias=true", Config{Shift: 6, NoBias: true}, true},
		{"shift=6,no_bias=true", Config{Shift: 6}, false},
		{"relu6_shift=3", Config{Relu6Shift: 3}, true},
		{"activation=relu6", Config{Activation: golden.ActivationReLU6}, true},
	}
	for _, tt := range tests {
		match, err := ParseSelector(tt.sel)
		require.NoError(t, err, tt.sel)
		assert.Equal(t, tt.want, match(tt.cfg), "%q against %v", tt.sel, tt.cfg)
	}

	for _, bad := range []string{"dataflow", "tile=4", "shift=x", "dataflow=RS", "no_bias=perhaps"} {
		_, err := ParseSelector(bad)
		assert.Error(t, err, bad)
	}
}

// TestHelperSimulator is not a real test: it is re-executed as the external
// simulator by the Exec backend tests.
func TestHelperSimulator(t *testing.T) {
	switch os.Getenv("TILECHECK_HELPER_SIM") {
	case "":
		return
	case "crash":
		fmt.Fprintln(os.Stderr, "simulator crashed")
		os.Exit(3)
	}
	if err := ServeStream(context.Background(), NewModel(4, config.Int8Range), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(0)
}

func helperExec(mode string) *Exec {
	return &Exec{
		Path: os.Args[0],
		Args: []string{"-test.run=^TestHelperSimulator$"},
		Env:  []string{"TILECHECK_HELPER_SIM=" + mode},
	}
}

func TestExecDevice(t *testing.T) {
	dims := config.Dims{I: 5, K: 7, J: 6}
	op := newOperands(21, dims, -2, 2)
	cfg := Config{Dataflow: WS, Activation: golden.ActivationReLU6, Shift: 1, Relu6Shift: 0}

	out := matrix.New[int32](dims.I, dims.J)
	require.NoError(t, helperExec("run").TiledMatmul(context.Background(), dims, op.a, op.b, op.d, out, cfg))
	assert.Equal(t, expected(t, op, cfg).ToRows(), out.ToRows())
}

func TestExecDeviceFailure(t *testing.T) {
	dims := config.Dims{I: 2, K: 2, J: 2}
	op := newOperands(1, dims, -1, 1)
	err := helperExec("crash").TiledMatmul(context.Background(), dims, op.a, op.b, op.d, matrix.New[int32](2, 2), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulator crashed")
}

func TestNewExec(t *testing.T) {
	_, err := NewExec(nil)
	assert.Error(t, err)
	e, err := NewExec([]string{"/opt/gemmini/bin/spike-dut", "--dim", "16"})
	require.NoError(t, err)
	assert.Equal(t, "exec(spike-dut)", e.Name())
	assert.Equal(t, []string{"--dim", "16"}, e.Args)
}

func TestRemoteDevice(t *testing.T) {
	model := &flushCounter{Device: NewModel(4, config.Int8Range)}
	srv, err := transport.Listen("localhost:0", NewService(model))
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Shutdown()

	ctx := context.Background()
	remote, err := DialRemote(ctx, srv.Addr().String())
	require.NoError(t, err)
	defer remote.Close()

	require.NoError(t, remote.Flush(ctx))
	assert.Equal(t, 1, model.flushes)

	dims := config.Dims{I: 9, K: 5, J: 7}
	op := newOperands(4, dims, -1, 1)
	for _, cfg := range []Config{
		{Dataflow: OS},
		{Dataflow: CPU, Activation: golden.ActivationReLU, NoBias: true},
		{Dataflow: WS, Activation: golden.ActivationReLU6, Shift: 1, Relu6Shift: 2},
	} {
		out := matrix.New[int32](dims.I, dims.J)
		require.NoError(t, remote.TiledMatmul(ctx, dims, op.a, op.b, op.d, out, cfg))
		assert.Equal(t, expected(t, op, cfg).ToRows(), out.ToRows(), cfg.String())
	}
}

func TestRemoteDeviceError(t *testing.T) {
	srv, err := transport.Listen("localhost:0", NewService(failingDevice{}))
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Shutdown()

	remote, err := DialRemote(context.Background(), srv.Addr().String())
	require.NoError(t, err)
	defer remote.Close()

	dims := config.Dims{I: 2, K: 2, J: 2}
	op := newOperands(1, dims, -1, 1)
	err = remote.TiledMatmul(context.Background(), dims, op.a, op.b, op.d, matrix.New[int32](2, 2), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus error")
}

func TestFromHeaderRejectsUnknownCodes(t *testing.T) {
	_, _, err := FromHeader(transport.Header{I: 1, K: 1, J: 1, Dataflow: "RS"})
	assert.Error(t, err)
	_, _, err = FromHeader(transport.Header{I: 1, K: 1, J: 1, Dataflow: "OS", Activation: 4})
	assert.Error(t, err)
}

func TestRunRejectsOutOfRangeShifts(t *testing.T) {
	dims := config.Dims{I: 2, K: 2, J: 2}
	op := newOperands(1, dims, -1, 1)
	m := NewModel(4, config.Int8Range)

	for _, cfg := range []Config{
		{Dataflow: CPU, Shift: config.MaxShift + 1},
		{Dataflow: CPU, Shift: 64},
		{Dataflow: OS, Activation: golden.ActivationReLU6, Relu6Shift: config.MaxRelu6Shift + 1},
	} {
		var (
			res *transport.Result
			err error
		)
		require.NotPanics(t, func() {
			res, err = Run(context.Background(), m, NewJob(dims, op.a, op.b, op.d, cfg))
		}, cfg.String())
		assert.Error(t, err, cfg.String())
		assert.Nil(t, res)
	}

	cfg := Config{Dataflow: CPU, Shift: config.MaxShift, Activation: golden.ActivationReLU6, Relu6Shift: config.MaxRelu6Shift}
	res, err := Run(context.Background(), m, NewJob(dims, op.a, op.b, op.d, cfg))
	require.NoError(t, err)
	assert.Equal(t, expected(t, op, cfg).ToRows(), res.C.ToRows())
}

type flushCounter struct {
	Device
	flushes int
}

func (f *flushCounter) Flush(context.Context) error {
	f.flushes++
	return nil
}

type failingDevice struct{}

func (failingDevice) Name() string { return "failing" }

func (failingDevice) TiledMatmul(context.Context, config.Dims, *matrix.Narrow, *matrix.Narrow, *matrix.Narrow, *matrix.Narrow, Config) error {
	return errors.New("bus error")
}
