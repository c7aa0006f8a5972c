package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/golden"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
)

// Faulty wraps a device and corrupts one output element on every trial whose
// configuration matches. It exists to prove the harness catches bad hardware.
type Faulty struct {
	Inner Device
	Match func(Config) bool
	Row   int
	Col   int
	Elem  config.Range

	Injected int
}

func (f *Faulty) Name() string {
	return "faulty(" + f.Inner.Name() + ")"
}

func (f *Faulty) TiledMatmul(ctx context.Context, dims config.Dims, a, b, d, out *matrix.Narrow, cfg Config) error {
	if err := f.Inner.TiledMatmul(ctx, dims, a, b, d, out, cfg); err != nil {
		return err
	}
	if f.Match == nil || !f.Match(cfg) {
		return nil
	}
	r, c := f.Row%out.Rows, f.Col%out.Cols
	v := int64(out.At(r, c))
	if v < f.Elem.Max {
		v++
	} else {
		v--
	}
	out.Set(r, c, int32(v))
	f.Injected++
	return nil
}

func (f *Faulty) Flush(ctx context.Context) error {
	if fl, ok := f.Inner.(Flusher); ok {
		return fl.Flush(ctx)
	}
	return nil
}

// ParseSelector turns "dataflow=WS,activation=RELU,shift=6" into a predicate
// over configurations. Omitted keys match anything; an empty selector matches
// every configuration.
func ParseSelector(s string) (func(Config) bool, error) {
	var preds []func(Config) bool
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("selector %q: want key=value", part)
		}
		pred, err := selectorTerm(strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", part, err)
		}
		preds = append(preds, pred)
	}
	return func(c Config) bool {
		for _, p := range preds {
			if !p(c) {
				return false
			}
		}
		return true
	}, nil
}

func selectorTerm(key, val string) (func(Config) bool, error) {
	switch key {
	case "dataflow":
		df, err := ParseDataflow(val)
		if err != nil {
			return nil, err
		}
		return func(c Config) bool { return c.Dataflow == df }, nil
	case "activation":
		act, err := golden.ParseActivation(val)
		if err != nil {
			return nil, err
		}
		return func(c Config) bool { return c.Activation == act }, nil
	case "shift", "relu6_shift":
		n, err := strconv.ParseUint(val, 10, 8)
		if err != nil {
			return nil, err
		}
		if key == "shift" {
			return func(c Config) bool { return c.Shift == uint(n) }, nil
		}
		return func(c Config) bool { return c.Relu6Shift == uint(n) }, nil
	case "no_bias":
		nb, err := strconv.ParseBool(val)
		if err != nil {
			return nil, err
		}
		return func(c Config) bool { return c.NoBias == nb }, nil
	}
	return nil, fmt.Errorf("unknown key %q", key)
}
