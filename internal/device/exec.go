package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
	"github.com/23skdu/longbow-tilecheck/internal/transport"
)

// Exec runs an external simulator once per trial. The job is written to the
// simulator's stdin as an Arrow IPC stream and the result is read back from
// its stdout in the same format.
type Exec struct {
	Path string
	Args []string
	Env  []string
	// Stderr receives the simulator's diagnostics; nil keeps the tail for
	// error messages only.
	Stderr io.Writer
}

func NewExec(argv []string) (*Exec, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("exec device: empty command")
	}
	return &Exec{Path: argv[0], Args: argv[1:]}, nil
}

func (e *Exec) Name() string {
	return "exec(" + filepath.Base(e.Path) + ")"
}

func (e *Exec) TiledMatmul(ctx context.Context, dims config.Dims, a, b, d, out *matrix.Narrow, cfg Config) error {
	if err := CheckShapes(dims, a, b, d, out); err != nil {
		return err
	}

	var stdin, stdout, stderr bytes.Buffer
	if err := transport.WriteJob(&stdin, NewJob(dims, a, b, d, cfg)); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.Stderr)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", e.Name(), err, lastLine(stderr.String()))
	}

	res, err := transport.ReadResult(&stdout)
	if err != nil {
		return fmt.Errorf("%s: %w", e.Name(), err)
	}
	return copyResult(out, res.C)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
