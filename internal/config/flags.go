package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// RegisterFlags binds the harness flags to c, keeping c's current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Dims.I, "dim-i", c.Dims.I, "Rows of A and of the result")
	fs.IntVar(&c.Dims.K, "dim-k", c.Dims.K, "Inner dimension")
	fs.IntVar(&c.Dims.J, "dim-j", c.Dims.J, "Columns of B and of the result")
	fs.Var((*rangeValue)(&c.Elem), "elem-range", "Narrow element range as min:max")
	fs.Var((*rangeValue)(&c.Acc), "acc-range", "Bias element range as min:max")
	fs.Var((*rangeValue)(&c.Operand), "operand-range", "Random operand range as min:max")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "Seed for operand generation")

	fs.Var((*stringList)(&c.Dataflows), "dataflows", "Comma separated dataflows to sweep (OS,WS,CPU)")
	fs.Var((*stringList)(&c.Activations), "activations", "Comma separated activations to sweep (NONE,RELU,RELU6)")
	fs.Var((*intList)(&c.Shifts), "shifts", "Comma separated output shifts to sweep")
	fs.Var((*intList)(&c.Relu6Shifts), "relu6-shifts", "Comma separated relu6 shifts to sweep")
	fs.Var((*boolList)(&c.NoBias), "no-bias", "Comma separated no-bias settings to sweep")

	fs.Var(goldenShiftValue{&c.GoldenShift}, "golden-shift", "Reference requantization shift: zero or matched")
	fs.Var(modeValue{&c.Mode}, "mode", "Sweep mode: failfast or accumulate")
	fs.IntVar(&c.MaxDumps, "max-dumps", c.MaxDumps, "Matrix dumps to print in accumulate mode")

	fs.StringVar(&c.Device, "device", c.Device, "Device under test: model, remote or exec")
	fs.StringVar(&c.DeviceAddr, "device-addr", c.DeviceAddr, "Flight address of a remote device")
	fs.Var((*argList)(&c.DeviceCmd), "device-cmd", "Simulator command line for the exec device")
	fs.IntVar(&c.TileSize, "tile", c.TileSize, "Tile edge of the software model")
	fs.StringVar(&c.InjectFault, "inject-fault", c.InjectFault, "Corrupt one element on trials matching this selector, e.g. dataflow=WS,activation=RELU")

	fs.BoolVar(&c.LockMemory, "mlock", c.LockMemory, "Lock process memory before the sweep")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Address for /metrics and /status (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: console or json")
}

func ParseRange(s string) (Range, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return Range{}, fmt.Errorf("range %q: want min:max", s)
	}
	min, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	max, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	return Range{Min: min, Max: max}, nil
}

func ParseInts(s string) ([]int, error) {
	var out []int
	for _, f := range splitList(s) {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func ParseBools(s string) ([]bool, error) {
	var out []bool
	for _, f := range splitList(s) {
		v, err := strconv.ParseBool(f)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

type rangeValue Range

func (r *rangeValue) String() string { return Range(*r).String() }

func (r *rangeValue) Set(s string) error {
	v, err := ParseRange(s)
	if err != nil {
		return err
	}
	*r = rangeValue(v)
	return nil
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(s string) error {
	*l = splitList(s)
	return nil
}

type intList []int

func (l *intList) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(s string) error {
	v, err := ParseInts(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

type boolList []bool

func (l *boolList) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.FormatBool(v)
	}
	return strings.Join(parts, ",")
}

func (l *boolList) Set(s string) error {
	v, err := ParseBools(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// argList splits on whitespace; the simulator path is the first element.
type argList []string

func (l *argList) String() string { return strings.Join(*l, " ") }

func (l *argList) Set(s string) error {
	*l = strings.Fields(s)
	return nil
}

type goldenShiftValue struct{ p *GoldenShift }

func (v goldenShiftValue) String() string {
	if v.p == nil {
		return GoldenShiftZero.String()
	}
	return v.p.String()
}

func (v goldenShiftValue) Set(s string) error {
	g, err := ParseGoldenShift(s)
	if err != nil {
		return err
	}
	*v.p = g
	return nil
}

type modeValue struct{ p *Mode }

func (v modeValue) String() string {
	if v.p == nil {
		return ModeFailFast.String()
	}
	return v.p.String()
}

func (v modeValue) Set(s string) error {
	m, err := ParseMode(s)
	if err != nil {
		return err
	}
	*v.p = m
	return nil
}
