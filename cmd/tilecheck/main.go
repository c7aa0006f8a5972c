package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/device"
	"github.com/23skdu/longbow-tilecheck/internal/harness"
	"github.com/23skdu/longbow-tilecheck/internal/logger"
	"github.com/23skdu/longbow-tilecheck/internal/memlock"
	"github.com/23skdu/longbow-tilecheck/internal/monitoring"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process exit. Mismatch dumps go to stdout, logs to
// stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Default()
	fs := flag.NewFlagSet("tilecheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	logger.SetOutput(stderr, cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Log.Error("invalid configuration", "err", err)
		return 1
	}

	if cfg.LockMemory {
		if err := memlock.Acquire(); err != nil {
			logger.Log.Error("memory lock failed", "err", err)
			return 1
		}
		defer memlock.Release()
	}

	dev, closeDev, err := openDevice(ctx, &cfg, stderr)
	if err != nil {
		logger.Log.Error("device setup failed", "device", cfg.GetDevice(), "err", err)
		return 1
	}
	defer closeDev()

	opts := []harness.Option{harness.WithDump(stdout)}
	if cfg.MetricsAddr != "" {
		mon := monitoring.NewSweepMonitor()
		opts = append(opts, harness.WithObserver(mon))
		go func() {
			if err := mon.Start(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("monitor stopped", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mon.Stop(sctx)
		}()
	}

	h, err := harness.New(cfg, dev, opts...)
	if err != nil {
		logger.Log.Error("harness setup failed", "err", err)
		return 1
	}

	logger.Log.Info("sweep starting",
		"device", dev.Name(),
		"dims", cfg.Dims.String(),
		"trials", cfg.Trials(),
		"seed", cfg.Seed,
		"golden_shift", cfg.GoldenShift.String(),
		"mode", cfg.Mode.String(),
	)
	rep, err := h.Run(ctx)
	if err != nil {
		logger.Log.Error("sweep failed", "err", err, "report", rep.String())
	} else {
		logger.Log.Info("sweep passed", "report", rep.String())
	}
	return rep.ExitCode()
}

func openDevice(ctx context.Context, cfg *config.Config, stderr io.Writer) (device.Device, func(), error) {
	var (
		dev     device.Device
		closeFn = func() {}
	)
	switch cfg.GetDevice() {
	case "model":
		dev = device.NewModel(cfg.TileSize, cfg.Elem)
	case "remote":
		r, err := device.DialRemote(ctx, cfg.DeviceAddr)
		if err != nil {
			return nil, nil, err
		}
		dev = r
		closeFn = func() { r.Close() }
	case "exec":
		e, err := device.NewExec(cfg.DeviceCmd)
		if err != nil {
			return nil, nil, err
		}
		e.Stderr = stderr
		dev = e
	default:
		return nil, nil, fmt.Errorf("unknown device %q", cfg.Device)
	}

	if cfg.InjectFault != "" {
		match, err := device.ParseSelector(cfg.InjectFault)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("inject-fault: %w", err)
		}
		dev = &device.Faulty{Inner: dev, Match: match, Elem: cfg.Elem}
		logger.Log.Warn("fault injection enabled", "selector", cfg.InjectFault)
	}
	return dev, closeFn, nil
}
