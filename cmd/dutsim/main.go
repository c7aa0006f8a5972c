package main

import (
	"bufio"
	"context"
	"flag"
	"os"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/device"
	"github.com/23skdu/longbow-tilecheck/internal/logger"
)

var (
	tile      = flag.Int("tile", 16, "Tile edge of the software model")
	elemRange = flag.String("elem-range", "-128:127", "Narrow element range as min:max")
	logLevel  = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
)

// dutsim runs one job read from stdin on the software model and writes the
// result to stdout. It is the reference simulator for tilecheck -device=exec.
func main() {
	flag.Parse()
	logger.Setup(*logLevel, "console")

	elem, err := config.ParseRange(*elemRange)
	if err != nil {
		logger.Log.Error("invalid elem-range", "err", err)
		os.Exit(1)
	}

	out := bufio.NewWriter(os.Stdout)
	dev := device.NewModel(*tile, elem)
	if err := device.ServeStream(context.Background(), dev, bufio.NewReader(os.Stdin), out); err != nil {
		logger.Log.Error("job failed", "err", err)
		os.Exit(1)
	}
	if err := out.Flush(); err != nil {
		logger.Log.Error("write result", "err", err)
		os.Exit(1)
	}
}
