// Package channel implements the request/response discipline shared by
// all five duplex connections the bridge establishes during rendezvous:
// exactly one request outstanding at a time, enforced by a per-channel
// mutex and lifecycle.ChannelGuard rather than left as a calling
// convention.
package channel

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/lifecycle"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// Name identifies one of the bridge's five fixed-order channels.
type Name string

const (
	Dispatch     Name = "dispatch"
	DispatchMIDI Name = "dispatch_midi"
	HostCallback Name = "host_callback"
	Parameters   Name = "parameters"
	Audio        Name = "audio"
)

// Order is the fixed sequence WH must connect channels in during
// rendezvous. The native proxy's listener accepts in exactly this order;
// a connection arriving out of turn is a protocol violation, not a race
// to resolve by matching on content.
var Order = []Name{Dispatch, DispatchMIDI, HostCallback, Parameters, Audio}

// Channel wraps one connected duplex socket with the request/response
// mutex discipline. Callers on the request-initiating side call Call;
// callers on the serving side call Serve with a handler.
type Channel struct {
	name  Name
	conn  net.Conn
	guard *lifecycle.ChannelGuard

	// mu serializes Call: only one request may be outstanding on a
	// channel at a time, matching the teacher's per-channel mutex
	// pattern (dispatch_lock, parameter_lock, ...) rather than allowing
	// concurrent callers to interleave frames on one socket.
	mu sync.Mutex
}

// New wraps conn as a named channel, starting in the Idle guard state.
func New(name Name, conn net.Conn) *Channel {
	return &Channel{name: name, conn: conn, guard: lifecycle.NewChannelGuard()}
}

// Name returns the channel's name.
func (c *Channel) Name() Name { return c.name }

// Close closes the underlying connection and marks the guard Closed. It
// is safe to call multiple times.
func (c *Channel) Close() error {
	c.guard.Close()
	return c.conn.Close()
}

// State returns the channel's current request/response state.
func (c *Channel) State() lifecycle.ChannelState { return c.guard.State() }

// Call sends reqBody as a framed request and returns the framed response
// body, enforcing that no other Call or Serve round can overlap on this
// channel. ctx's deadline, if any, is applied to both the write and the
// read.
func (c *Channel) Call(ctx context.Context, reqBody []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guard.Begin(); err != nil {
		return nil, oops.With("channel", string(c.name)).Wrap(err)
	}
	defer c.guard.End()

	if err := c.applyDeadline(ctx); err != nil {
		return nil, err
	}

	if err := wire.WriteFrame(c.conn, reqBody); err != nil {
		return nil, oops.With("channel", string(c.name)).Wrapf(err, "channel: write request")
	}
	respBody, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, oops.With("channel", string(c.name)).Wrapf(err, "channel: read response")
	}
	return respBody, nil
}

// Handler processes one framed request body and returns the framed
// response body to write back.
type Handler func(reqBody []byte) ([]byte, error)

// Serve loops reading framed requests and writing framed responses until
// ctx is cancelled or the connection is closed, using the same
// Idle/InFlight guard as Call so a misbehaving peer that pipelines two
// requests is rejected rather than silently interleaved.
func (c *Channel) Serve(ctx context.Context, handle Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reqBody, err := wire.ReadFrame(c.conn)
		if err != nil {
			return oops.With("channel", string(c.name)).Wrapf(err, "channel: serve read request")
		}

		if err := c.guard.Begin(); err != nil {
			return oops.With("channel", string(c.name)).Wrap(err)
		}
		respBody, herr := handle(reqBody)
		c.guard.End()
		if herr != nil {
			return oops.With("channel", string(c.name)).Wrap(herr)
		}

		if err := wire.WriteFrame(c.conn, respBody); err != nil {
			return oops.With("channel", string(c.name)).Wrapf(err, "channel: serve write response")
		}
	}
}

func (c *Channel) applyDeadline(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return c.conn.SetDeadline(time.Time{})
	}
	return c.conn.SetDeadline(deadline)
}
