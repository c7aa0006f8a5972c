package device

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-tilecheck/internal/config"
	"github.com/23skdu/longbow-tilecheck/internal/matrix"
	"github.com/23skdu/longbow-tilecheck/internal/transport"
)

// Remote drives an accelerator exposed over Arrow Flight, typically a board
// host running dutserver.
type Remote struct {
	client *transport.Client
}

func DialRemote(ctx context.Context, addr string) (*Remote, error) {
	c, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Remote{client: c}, nil
}

func (r *Remote) Name() string {
	return fmt.Sprintf("remote(%s)", r.client.Addr())
}

func (r *Remote) TiledMatmul(ctx context.Context, dims config.Dims, a, b, d, out *matrix.Narrow, cfg Config) error {
	if err := CheckShapes(dims, a, b, d, out); err != nil {
		return err
	}
	res, err := r.client.Exchange(ctx, NewJob(dims, a, b, d, cfg))
	if err != nil {
		return err
	}
	return copyResult(out, res.C)
}

func (r *Remote) Flush(ctx context.Context) error {
	return r.client.Flush(ctx)
}

func (r *Remote) Close() error {
	return r.client.Close()
}
