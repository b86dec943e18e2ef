package shelly

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/shelly/wire"
)

// ErrInvalidResponse is reported when a packet received from the server
// cannot be decoded.
var ErrInvalidResponse = errors.New("invalid response")

// ClientConfig is the config of client.
type ClientConfig struct {
	// Target is the server address.
	Target string
	// AckTimeout is the time to wait for an acknowledgement before
	// resending.
	AckTimeout time.Duration
	// ResultTimeout is the time to wait for a result once the request has
	// been acknowledged. It is longer than AckTimeout because the
	// orchestrator round-trip may take a while.
	ResultTimeout time.Duration
	// MaxRetries is the total number of sends of one request.
	MaxRetries int
	// MaxPayloadSize limits the payload of a single packet.
	MaxPayloadSize int
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Target:         "127.0.0.1:9700",
		AckTimeout:     5 * time.Second,
		ResultTimeout:  2 * time.Minute,
		MaxRetries:     3,
		MaxPayloadSize: wire.DefaultMaxPayloadSize,
	}
}

// Client sends requests to the server and waits for acknowledged results.
type Client struct {
	config ClientConfig
	codec  wire.Codec
	conn   *net.UDPConn
	seq    atomic.Uint32

	// mu serializes exchanges; the protocol correlates strictly by
	// sequence and this client runs one exchange at a time.
	mu sync.Mutex
}

// NewClient creates new client.
func NewClient(config ClientConfig) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", config.Target)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %q", config.Target)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Client{
		config: config,
		codec:  wire.Codec{MaxPayloadSize: config.MaxPayloadSize},
		conn:   conn,
	}, nil
}

// Close closes the client socket.
func (c *Client) Close() error {
	return errors.WithStack(c.conn.Close())
}

// Do runs one exchange: it sends the request, retries until acknowledged and
// returns the result. Sequence numbers are strictly monotonic and never
// reused, also after failed exchanges.
func (c *Client) Do(ctx context.Context, content string) (wire.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Add(1)
	packet, err := c.codec.Encode(wire.Packet{
		Kind:    wire.KindRequest,
		Seq:     seq,
		Request: &wire.Request{Content: content},
	})
	if err != nil {
		return wire.Result{}, err
	}

	e := newExchange(seq, c.config.MaxRetries)
	if err := c.send(packet); err != nil {
		return wire.Result{}, err
	}

	buf := make([]byte, wire.HeaderSize+c.config.MaxPayloadSize+1024)
	deadline := time.Now().Add(c.config.AckTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return wire.Result{}, errors.WithStack(err)
		}

		if err := c.conn.SetReadDeadline(readDeadline(ctx, deadline)); err != nil {
			return wire.Result{}, errors.WithStack(err)
		}

		n, err := c.conn.Read(buf)
		if err != nil {
			if !isTimeout(err) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return wire.Result{}, errors.WithStack(ctxErr)
				}
				return wire.Result{}, errors.WithStack(err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return wire.Result{}, errors.WithStack(ctxErr)
			}

			switch e.OnTimeout() {
			case actResend:
				if err := c.send(packet); err != nil {
					return wire.Result{}, err
				}
				deadline = time.Now().Add(c.config.AckTimeout)
			case actFinish:
				return wire.Result{}, e.err
			}
			continue
		}

		p, err := c.codec.Decode(buf[:n])
		if err != nil {
			return wire.Result{}, errors.Wrapf(ErrInvalidResponse, "%s", err)
		}

		switch e.OnPacket(p) {
		case actAwaitResult:
			deadline = time.Now().Add(c.config.ResultTimeout)
		case actFinish:
			return e.result, nil
		case actWait:
		}
	}
}

func (c *Client) send(packet []byte) error {
	if _, err := c.conn.Write(packet); err != nil {
		return errors.Wrap(err, "send failed")
	}
	return nil
}

// readDeadline caps the phase deadline by the context deadline, so a
// cancelled context is observed no later than the running timer.
func readDeadline(ctx context.Context, deadline time.Time) time.Time {
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
