package config

import (
	"fmt"
	"math"
	"strings"
)

// GoldenShift selects the shift used to requantize the reference result.
type GoldenShift int

const (
	// GoldenShiftZero always requantizes the reference at shift 0; the swept
	// shift only reaches the device under test.
	GoldenShiftZero GoldenShift = iota
	// GoldenShiftMatched requantizes the reference at the swept shift.
	GoldenShiftMatched
)

func (g GoldenShift) String() string {
	switch g {
	case GoldenShiftZero:
		return "zero"
	case GoldenShiftMatched:
		return "matched"
	default:
		return fmt.Sprintf("GoldenShift(%d)", int(g))
	}
}

func ParseGoldenShift(s string) (GoldenShift, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zero", "0", "":
		return GoldenShiftZero, nil
	case "matched", "swept":
		return GoldenShiftMatched, nil
	}
	return 0, fmt.Errorf("unknown golden shift mode %q (want zero or matched)", s)
}

// Mode controls what the sweep does after the first mismatch.
type Mode int

const (
	ModeFailFast Mode = iota
	ModeAccumulate
)

func (m Mode) String() string {
	switch m {
	case ModeFailFast:
		return "failfast"
	case ModeAccumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "failfast", "fail-fast", "":
		return ModeFailFast, nil
	case "accumulate", "keep-going":
		return ModeAccumulate, nil
	}
	return 0, fmt.Errorf("unknown sweep mode %q (want failfast or accumulate)", s)
}

// Range is an inclusive integer interval.
type Range struct {
	Min int64
	Max int64
}

func (r Range) Contains(v int64) bool {
	return v >= r.Min && v <= r.Max
}

// Covers reports whether every value of o lies in r.
func (r Range) Covers(o Range) bool {
	return r.Contains(o.Min) && r.Contains(o.Max)
}

// MaxAbs is the largest magnitude a value in r can have.
func (r Range) MaxAbs() int64 {
	lo, hi := r.Min, r.Max
	if lo < 0 {
		lo = -lo
	}
	if hi < 0 {
		hi = -hi
	}
	return max(lo, hi)
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
}

// Dims are the row, inner and column extents shared by every matrix in a trial.
type Dims struct {
	I int
	K int
	J int
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.I, d.K, d.J)
}

// Largest output shift and relu6 shift a trial may carry. Beyond them the
// rounding divisor or the RELU6 ceiling no longer fits the wide accumulator.
const (
	MaxShift      = 62
	MaxRelu6Shift = 58
)

var (
	Int8Range  = Range{Min: math.MinInt8, Max: math.MaxInt8}
	Int32Range = Range{Min: math.MinInt32, Max: math.MaxInt32}
)

type Config struct {
	Dims Dims

	// Elem bounds narrow operand and result elements.
	Elem Range
	// Acc bounds bias elements.
	Acc Range
	// Operand is the range random operands and biases are drawn from.
	Operand Range

	Seed uint64

	Dataflows   []string
	Activations []string
	Shifts      []int
	Relu6Shifts []int
	NoBias      []bool

	GoldenShift GoldenShift
	Mode        Mode
	// MaxDumps caps how many mismatching trials get a full matrix dump in
	// accumulate mode.
	MaxDumps int

	Device     string
	DeviceAddr string
	DeviceCmd  []string
	TileSize   int

	InjectFault string

	LockMemory  bool
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

func (c *Config) Validate() error {
	if c.Dims.I <= 0 {
		return fmt.Errorf("invalid dim_i: %d (must be positive)", c.Dims.I)
	}
	if c.Dims.K <= 0 {
		return fmt.Errorf("invalid dim_k: %d (must be positive)", c.Dims.K)
	}
	if c.Dims.J <= 0 {
		return fmt.Errorf("invalid dim_j: %d (must be positive)", c.Dims.J)
	}
	if c.Elem.Min > 0 || c.Elem.Max < 0 || c.Elem.Min >= c.Elem.Max {
		return fmt.Errorf("invalid elem range: %s (must contain 0 and be non-empty)", c.Elem)
	}
	if !Int32Range.Covers(c.Elem) {
		return fmt.Errorf("invalid elem range: %s (must fit in int32)", c.Elem)
	}
	if !Int32Range.Covers(c.Acc) || !c.Acc.Covers(c.Elem) {
		return fmt.Errorf("invalid acc range: %s (must fit in int32 and cover elem range %s)", c.Acc, c.Elem)
	}
	if c.Operand.Min > c.Operand.Max {
		return fmt.Errorf("invalid operand range: %s (min > max)", c.Operand)
	}
	if !c.Elem.Covers(c.Operand) {
		return fmt.Errorf("invalid operand range: %s (must lie inside elem range %s)", c.Operand, c.Elem)
	}
	if err := c.validateAccumulation(); err != nil {
		return err
	}
	if len(c.Dataflows) == 0 {
		return fmt.Errorf("invalid dataflows: empty (need at least one)")
	}
	if len(c.Activations) == 0 {
		return fmt.Errorf("invalid activations: empty (need at least one)")
	}
	if len(c.Shifts) == 0 {
		return fmt.Errorf("invalid shifts: empty (need at least one)")
	}
	for _, s := range c.Shifts {
		if s < 0 || s > MaxShift {
			return fmt.Errorf("invalid shift: %d (must be in [0,%d])", s, MaxShift)
		}
	}
	if len(c.Relu6Shifts) == 0 {
		return fmt.Errorf("invalid relu6 shifts: empty (need at least one)")
	}
	for _, s := range c.Relu6Shifts {
		if s < 0 || s > MaxRelu6Shift {
			return fmt.Errorf("invalid relu6 shift: %d (must be in [0,%d])", s, MaxRelu6Shift)
		}
	}
	if len(c.NoBias) == 0 {
		return fmt.Errorf("invalid no-bias axis: empty (need at least one)")
	}
	if c.MaxDumps < 0 {
		return fmt.Errorf("invalid max_dumps: %d (must be non-negative)", c.MaxDumps)
	}
	if c.TileSize <= 0 {
		return fmt.Errorf("invalid tile_size: %d (must be positive)", c.TileSize)
	}
	switch c.GetDevice() {
	case "model":
	case "remote":
		if c.DeviceAddr == "" {
			return fmt.Errorf("device %q needs an address", c.Device)
		}
	case "exec":
		if len(c.DeviceCmd) == 0 {
			return fmt.Errorf("device %q needs a command", c.Device)
		}
	default:
		return fmt.Errorf("unknown device %q (want model, remote or exec)", c.Device)
	}
	return nil
}

// validateAccumulation rejects geometries whose worst-case dot product plus
// bias would not fit the int64 accumulator.
func (c *Config) validateAccumulation() error {
	p := c.Operand.MaxAbs()
	if p == 0 {
		return nil
	}
	if p > math.MaxInt64/p {
		return fmt.Errorf("operand range %s overflows the wide accumulator", c.Operand)
	}
	prod := p * p
	if int64(c.Dims.K) > (math.MaxInt64-c.Acc.MaxAbs())/prod {
		return fmt.Errorf("dim_k %d with operand range %s overflows the wide accumulator", c.Dims.K, c.Operand)
	}
	return nil
}

func (c *Config) GetDevice() string {
	return strings.ToLower(c.Device)
}

// Trials is the size of the configured sweep.
func (c *Config) Trials() int {
	return len(c.Dataflows) * len(c.Activations) * len(c.Shifts) * len(c.Relu6Shifts) * len(c.NoBias)
}

func Default() Config {
	return Config{
		Dims:    Dims{I: 256, K: 256, J: 256},
		Elem:    Int8Range,
		Acc:     Int32Range,
		Operand: Range{Min: -1, Max: 1},
		Seed:    1,

		Dataflows:   []string{"OS", "WS", "CPU"},
		Activations: []string{"NONE", "RELU", "RELU6"},
		Shifts:      []int{0, 6, 12},
		Relu6Shifts: []int{0, 3, 6},
		NoBias:      []bool{false, true},

		GoldenShift: GoldenShiftZero,
		Mode:        ModeFailFast,
		MaxDumps:    4,

		Device:   "model",
		TileSize: 16,

		LockMemory: true,
		LogLevel:   "info",
		LogFormat:  "console",
	}
}
