package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// DefaultPort is where dutserver listens unless told otherwise.
	DefaultPort = 3000

	CmdTiledMatmul = "tiled_matmul"
	ActionFlush    = "flush"
)

// Client sends jobs to a remote accelerator over Arrow Flight.
type Client struct {
	client  flight.Client
	addr    string
	timeout time.Duration
	mem     memory.Allocator
}

// Dial connects to the Flight service at addr. Extra dial options are appended
// after insecure transport credentials.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	c, err := flight.NewClientWithMiddlewareCtx(ctx, addr, nil, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client for %s: %w", addr, err)
	}
	return &Client{
		client: c,
		addr:   addr,
		mem:    memory.DefaultAllocator,
	}, nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Timeout() time.Duration { return c.timeout }

// SetTimeout bounds each Exchange and Flush call. Calls are unbounded until
// it is set; zero removes the bound again.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Exchange streams job to the server with DoExchange and returns its result.
func (c *Client) Exchange(ctx context.Context, job *Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	schema, err := jobSchema(job.Header)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open exchange with %s: %w", c.addr, err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema), ipc.WithAllocator(c.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  []byte(CmdTiledMatmul),
	})
	if err := writeJob(w, schema, c.mem, job); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close job writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to half-close exchange: %w", err)
	}

	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("exchange with %s failed: %w", c.addr, err)
	}
	defer rdr.Release()

	return readResult(rdr)
}

// Flush asks the remote device to reset itself.
func (c *Client) Flush(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.client.DoAction(ctx, &flight.Action{Type: ActionFlush})
	if err != nil {
		return fmt.Errorf("flush %s: %w", c.addr, err)
	}
	if err := flight.ReadUntilEOF(stream); err != nil {
		return fmt.Errorf("flush %s: %w", c.addr, err)
	}
	return nil
}
