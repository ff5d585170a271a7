package group

import (
	"context"
	"net"

	"github.com/hashicorp/yamux"
	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/channel"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

const CodeGroupRejected = "group_rejected"

// ClientSession is the NP side of one connection to grouphost, shared
// across every plugin instance NP happens to host that belongs to the
// same group.
type ClientSession struct {
	session *yamux.Session
}

// DialGroup connects to grouphost's rendezvous socket at addr and
// establishes the client side of the yamux session.
func DialGroup(ctx context.Context, addr string) (*ClientSession, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", addr)
	if err != nil {
		return nil, oops.With("addr", addr).Wrapf(err, "group: dial")
	}
	session, err := yamux.Client(conn, yamux.DefaultConfig())
	if err != nil {
		_ = conn.Close()
		return nil, oops.Wrapf(err, "group: establish yamux client session")
	}
	return &ClientSession{session: session}, nil
}

// Close tears down the entire multiplexed session, ending every instance
// this NP was hosting through it.
func (c *ClientSession) Close() error { return c.session.Close() }

// RequestInstance opens a fresh control stream, sends req, and on
// acceptance opens the five data-channel streams in channel.Order,
// returning them wrapped exactly like rendezvous.Dial's individual-mode
// result so np.Bridge never needs to know which mode it's running under.
func (c *ClientSession) RequestInstance(req GroupRequest) (GroupResponse, *rendezvous.Channels, error) {
	control, err := c.session.Open()
	if err != nil {
		return GroupResponse{}, nil, oops.Wrapf(err, "group: open control stream")
	}

	w := wire.NewWriter(64)
	req.Serialize(w)
	if err := wire.WriteFrame(control, w.Bytes()); err != nil {
		_ = control.Close()
		return GroupResponse{}, nil, oops.Wrapf(err, "group: write request")
	}

	respBody, err := wire.ReadFrame(control)
	if err != nil {
		_ = control.Close()
		return GroupResponse{}, nil, oops.Wrapf(err, "group: read response")
	}
	resp, err := DeserializeGroupResponse(wire.NewReader(respBody))
	if err != nil {
		_ = control.Close()
		return GroupResponse{}, nil, err
	}
	_ = control.Close()

	if !resp.Accepted {
		return resp, nil, oops.Code(CodeGroupRejected).With("reason", resp.Reason).Errorf("group: request rejected: %s", resp.Reason)
	}

	channels := &rendezvous.Channels{}
	for _, name := range channel.Order {
		stream, err := c.session.Open()
		if err != nil {
			_ = channels.Close()
			return resp, nil, oops.With("channel", string(name)).Wrapf(err, "group: open data stream")
		}
		assignChannel(channels, name, channel.New(name, stream))
	}

	return resp, channels, nil
}

// Server is the grouphost side: it listens for NP connections and hands
// each accepted session to the caller as a ServerSession.
type Server struct {
	ln net.Listener
}

// Listen creates the group rendezvous socket at addr.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("unix", addr)
	if err != nil {
		return nil, oops.With("addr", addr).Wrapf(err, "group: listen")
	}
	return &Server{ln: ln}, nil
}

func (s *Server) Close() error { return s.ln.Close() }
func (s *Server) Addr() string { return s.ln.Addr().String() }

// AcceptSession blocks for the next incoming NP connection and returns
// its yamux server session.
func (s *Server) AcceptSession() (*ServerSession, error) {
	conn, err := s.ln.Accept()
	if err != nil {
		return nil, oops.Wrapf(err, "group: accept")
	}
	session, err := yamux.Server(conn, yamux.DefaultConfig())
	if err != nil {
		_ = conn.Close()
		return nil, oops.Wrapf(err, "group: establish yamux server session")
	}
	return &ServerSession{session: session}, nil
}

// ServerSession is grouphost's handle to one connected NP process, which
// may request multiple instances over its lifetime.
type ServerSession struct {
	session *yamux.Session
}

func (s *ServerSession) Close() error { return s.session.Close() }

// AcceptRequest blocks for the next control stream NP opens, decodes its
// GroupRequest, and returns a Responder the caller uses to accept or
// reject it.
func (s *ServerSession) AcceptRequest() (GroupRequest, *Responder, error) {
	control, err := s.session.Accept()
	if err != nil {
		return GroupRequest{}, nil, oops.Wrapf(err, "group: accept control stream")
	}

	body, err := wire.ReadFrame(control)
	if err != nil {
		_ = control.Close()
		return GroupRequest{}, nil, oops.Wrapf(err, "group: read request")
	}
	req, err := DeserializeGroupRequest(wire.NewReader(body))
	if err != nil {
		_ = control.Close()
		return GroupRequest{}, nil, err
	}

	return req, &Responder{session: s.session, control: control}, nil
}

// Responder lets the caller reply to one GroupRequest, then (on
// acceptance) accept the five subsequent data streams.
type Responder struct {
	session *yamux.Session
	control net.Conn
}

// Reject sends a GroupResponse with Accepted=false and closes the
// control stream; no data streams will follow.
func (r *Responder) Reject(reason string) error {
	defer r.control.Close()
	w := wire.NewWriter(32)
	GroupResponse{Accepted: false, Reason: reason}.Serialize(w)
	return wire.WriteFrame(r.control, w.Bytes())
}

// Accept sends a GroupResponse with Accepted=true carrying instanceID,
// then accepts the five data streams NP opens next in channel.Order.
func (r *Responder) Accept(instanceID string) (*rendezvous.Channels, error) {
	w := wire.NewWriter(64)
	GroupResponse{Accepted: true, InstanceID: instanceID}.Serialize(w)
	if err := wire.WriteFrame(r.control, w.Bytes()); err != nil {
		_ = r.control.Close()
		return nil, oops.Wrapf(err, "group: write accept response")
	}
	_ = r.control.Close()

	channels := &rendezvous.Channels{}
	for _, name := range channel.Order {
		stream, err := r.session.Accept()
		if err != nil {
			_ = channels.Close()
			return nil, oops.With("channel", string(name)).Wrapf(err, "group: accept data stream")
		}
		assignChannel(channels, name, channel.New(name, stream))
	}
	return channels, nil
}

func assignChannel(c *rendezvous.Channels, name channel.Name, ch *channel.Channel) {
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
