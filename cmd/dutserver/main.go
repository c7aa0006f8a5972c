package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/device"
	"github.com/23skdu/longbow-tilecheck/internal/logger"
	"github.com/23skdu/longbow-tilecheck/internal/transport"
)

var (
	addr      = flag.String("addr", fmt.Sprintf("localhost:%d", transport.DefaultPort), "Flight listen address")
	tile      = flag.Int("tile", 16, "Tile edge of the software model")
	elemRange = flag.String("elem-range", "-128:127", "Narrow element range as min:max")
	fault     = flag.String("inject-fault", "", "Corrupt one element on jobs matching this selector")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat = flag.String("log-format", "console", "Log format: console or json")
)

// dutserver exposes the software accelerator model over Arrow Flight so that
// tilecheck -device=remote can be exercised without hardware.
func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	elem, err := config.ParseRange(*elemRange)
	if err != nil {
		logger.Log.Error("invalid elem-range", "err", err)
		os.Exit(1)
	}
	if *tile <= 0 {
		logger.Log.Error(fmt.Sprintf("invalid tile: %d (must be positive)", *tile))
		os.Exit(1)
	}

	var dev device.Device = device.NewModel(*tile, elem)
	if *fault != "" {
		match, err := device.ParseSelector(*fault)
		if err != nil {
			logger.Log.Error("invalid inject-fault", "err", err)
			os.Exit(1)
		}
		dev = &device.Faulty{Inner: dev, Match: match, Elem: elem}
	}

	srv, err := transport.Listen(*addr, device.NewService(dev))
	if err != nil {
		logger.Log.Error("listen failed", "addr", *addr, "err", err)
		os.Exit(1)
	}
	srv.SetShutdownOnSignals(os.Interrupt, syscall.SIGTERM)

	logger.Log.Info("serving device", "device", dev.Name(), "addr", srv.Addr().String())
	if err := srv.Serve(); err != nil {
		logger.Log.Error("serve failed", "err", err)
		os.Exit(1)
	}
}
