// Package rendezvous implements the individual-mode handshake between the
// native proxy and a freshly spawned Windows host process: one Unix
// domain socket, with WH connecting five times in the fixed channel
// order internal/bridge/channel.Order defines. Group mode, where many
// plugin instances share one already-running WH process, is implemented
// separately in internal/bridge/group since its transport is yamux
// streams over an existing connection rather than fresh socket accepts.
package rendezvous

import (
	"context"
	"io"
	"net"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/channel"
	"github.com/yabridge-go/bridge/pkg/errutil"
)

const CodeRendezvousFailed = "rendezvous_failed"
const CodeRendezvousTimeout = "rendezvous_timeout"

// Channels holds the five connected channels in the fixed order NP and WH
// both rely on, ready to be wrapped into np.Bridge or wh.Bridge.
type Channels struct {
	Dispatch     *channel.Channel
	DispatchMIDI *channel.Channel
	HostCallback *channel.Channel
	Parameters   *channel.Channel
	Audio        *channel.Channel
}

// ByName returns the Channels field for name, used by code that iterates
// channel.Order generically (metrics registration, shutdown).
func (c *Channels) ByName(name channel.Name) *channel.Channel {
	switch name {
	case channel.Dispatch:
		return c.Dispatch
	case channel.DispatchMIDI:
		return c.DispatchMIDI
	case channel.HostCallback:
		return c.HostCallback
	case channel.Parameters:
		return c.Parameters
	case channel.Audio:
		return c.Audio
	default:
		return nil
	}
}

// Close closes every channel, collecting but not stopping on individual
// errors so one already-dead socket doesn't prevent closing the rest.
func (c *Channels) Close() error {
	var firstErr error
	for _, name := range channel.Order {
		ch := c.ByName(name)
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Endpoint identifies one rendezvous socket on disk. NP generates a fresh
// one per plugin instance using a ulid suffix so concurrently loaded
// instances of the same plugin never collide on the same path even if
// they're opened within the same millisecond.
type Endpoint struct {
	SocketPath string
}

// NewEndpoint returns an Endpoint rooted at scratchDir with a ulid-suffixed
// socket name.
func NewEndpoint(scratchDir string) Endpoint {
	id := ulid.Make()
	return Endpoint{SocketPath: scratchDir + "/yabridge-" + id.String() + ".sock"}
}

// Listener is the NP side of rendezvous: it owns the socket and accepts
// WH's five connections in order.
type Listener struct {
	endpoint Endpoint
	ln       net.Listener
}

// Listen creates the Unix domain socket at endpoint.SocketPath. The
// caller must call Close when done, which also removes the socket file.
func Listen(endpoint Endpoint) (*Listener, error) {
	_ = os.Remove(endpoint.SocketPath)
	ln, err := net.Listen("unix", endpoint.SocketPath)
	if err != nil {
		return nil, oops.Code(CodeRendezvousFailed).With("path", endpoint.SocketPath).Wrapf(err, "rendezvous: listen")
	}
	return &Listener{endpoint: endpoint, ln: ln}, nil
}

// Accept blocks accepting WH's five connections in channel.Order,
// returning early with an error (and closing whatever connected so far)
// if ctx is cancelled before all five arrive -- the timeout path that
// turns an unresponsive or crashed WH into CodeStartupFailed instead of
// hanging nativeproxy's VSTPluginMain forever.
//
// Each connection is required to open with a one-byte-length-prefixed
// name discriminator written by Dial before either side wraps the raw
// conn in a framed channel.Channel. Accept verifies the discriminator
// names the channel it expected at that position in channel.Order; a
// WH that dials out of order, or against a mismatched build, fails the
// handshake with CodeProtocolMismatch instead of silently being wired
// into the wrong channel slot.
func (l *Listener) Accept(ctx context.Context) (*Channels, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}

	channels := &Channels{}
	conns := make([]net.Conn, 0, len(channel.Order))

	defer func() {
		if ctx.Err() != nil {
			for _, c := range conns {
				_ = c.Close()
			}
		}
	}()

	for _, name := range channel.Order {
		resultCh := make(chan acceptResult, 1)
		go func() {
			conn, err := l.ln.Accept()
			resultCh <- acceptResult{conn, err}
		}()

		select {
		case <-ctx.Done():
			return nil, oops.Code(CodeRendezvousTimeout).With("channel", string(name)).Wrapf(ctx.Err(), "rendezvous: timed out waiting for channel")
		case res := <-resultCh:
			if res.err != nil {
				return nil, oops.Code(CodeRendezvousFailed).With("channel", string(name)).Wrapf(res.err, "rendezvous: accept")
			}
			conns = append(conns, res.conn)

			got, err := readDiscriminator(ctx, res.conn)
			if err != nil {
				return nil, oops.Code(CodeRendezvousFailed).With("channel", string(name)).Wrapf(err, "rendezvous: read channel discriminator")
			}
			if got != name {
				return nil, oops.Code(errutil.CodeProtocolMismatch).
					With("expected", string(name)).With("got", string(got)).
					Errorf("rendezvous: WH dialed out of order")
			}

			assign(channels, name, channel.New(name, res.conn))
		}
	}

	return channels, nil
}

// writeDiscriminator sends a one-byte length followed by name's bytes,
// the handshake Dial performs on every fresh connection before Accept
// wraps it into a channel.Channel.
func writeDiscriminator(conn net.Conn, name channel.Name) error {
	b := []byte(name)
	if _, err := conn.Write([]byte{byte(len(b))}); err != nil {
		return err
	}
	_, err := conn.Write(b)
	return err
}

// readDiscriminator reads the length-prefixed name Dial wrote, bounding
// the read by ctx's deadline if it has one.
func readDiscriminator(ctx context.Context, conn net.Conn) (channel.Name, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}

	var length [1]byte
	if _, err := io.ReadFull(conn, length[:]); err != nil {
		return "", err
	}
	buf := make([]byte, length[0])
	if _, err := io.ReadFull(conn, buf); err != nil {
		return "", err
	}
	return channel.Name(buf), nil
}

// Close closes the listening socket and removes it from disk.
func (l *Listener) Close() error {
	err := l.ln.Close()
	_ = os.Remove(l.endpoint.SocketPath)
	return err
}

// Addr returns the socket path being listened on, passed to WH as a
// command-line argument when spawning it.
func (l *Listener) Addr() string { return l.endpoint.SocketPath }

// Dial is the WH side of rendezvous: connect to endpoint five times in
// channel.Order. WH must dial in exactly this order: each connection
// announces its channel name first, and NP's Accept fails when that name
// is not the one expected at the connection's position.
func Dial(ctx context.Context, endpoint Endpoint) (*Channels, error) {
	channels := &Channels{}
	for _, name := range channel.Order {
		conn, err := dialOne(ctx, endpoint.SocketPath)
		if err != nil {
			_ = channels.Close()
			return nil, oops.Code(CodeRendezvousFailed).With("channel", string(name)).Wrapf(err, "rendezvous: dial")
		}
		if err := writeDiscriminator(conn, name); err != nil {
			_ = conn.Close()
			_ = channels.Close()
			return nil, oops.Code(CodeRendezvousFailed).With("channel", string(name)).Wrapf(err, "rendezvous: write channel discriminator")
		}
		assign(channels, name, channel.New(name, conn))
	}
	return channels, nil
}

func dialOne(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

func assign(c *Channels, name channel.Name, ch *channel.Channel) {
	switch name {
	case channel.Dispatch:
		c.Dispatch = ch
	case channel.DispatchMIDI:
		c.DispatchMIDI = ch
	case channel.HostCallback:
		c.HostCallback = ch
	case channel.Parameters:
		c.Parameters = ch
	case channel.Audio:
		c.Audio = ch
	}
}
