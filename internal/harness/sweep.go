package harness

import (
	"fmt"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/device"
	"github.com/23skdu/longbow-tilecheck/internal/golden"
)

// Configurations expands the sweep axes of cfg into trial configurations.
// Dataflow is the outermost axis, then activation, shift, relu6 shift, and
// no-bias innermost.
func Configurations(cfg *config.Config) ([]device.Config, error) {
	dataflows := make([]device.Dataflow, 0, len(cfg.Dataflows))
	for _, s := range cfg.Dataflows {
		df, err := device.ParseDataflow(s)
		if err != nil {
			return nil, err
		}
		dataflows = append(dataflows, df)
	}
	acts := make([]golden.Activation, 0, len(cfg.Activations))
	for _, s := range cfg.Activations {
		act, err := golden.ParseActivation(s)
		if err != nil {
			return nil, err
		}
		acts = append(acts, act)
	}
	for _, s := range cfg.Shifts {
		if s < 0 {
			return nil, fmt.Errorf("invalid shift: %d (must be non-negative)", s)
		}
	}
	for _, s := range cfg.Relu6Shifts {
		if s < 0 {
			return nil, fmt.Errorf("invalid relu6 shift: %d (must be non-negative)", s)
		}
	}

	out := make([]device.Config, 0, cfg.Trials())
	for _, df := range dataflows {
		for _, act := range acts {
			for _, shift := range cfg.Shifts {
				for _, r6 := range cfg.Relu6Shifts {
					for _, noBias := range cfg.NoBias {
						out = append(out, device.Config{
							Dataflow:   df,
							Activation: act,
							Shift:      uint(shift),
							Relu6Shift: uint(r6),
							NoBias:     noBias,
						})
					}
				}
			}
		}
	}
	return out, nil
}
