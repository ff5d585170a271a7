package lifecycle

import (
	"sync"

	"github.com/samber/oops"
)

// ChannelState is the per-channel request/response cycle each of the five
// duplex channels (dispatch, dispatch_midi, host_callback, parameters,
// audio) independently tracks, distinct from the bridge-wide Machine
// above.
type ChannelState uint8

const (
	// ChannelIdle: no request is outstanding; the channel's mutex is free
	// for the next caller.
	ChannelIdle ChannelState = iota
	// ChannelInFlight: a request has been written and the caller is
	// blocked reading the matching response.
	ChannelInFlight
	// ChannelClosed: the channel's connection has been torn down; no
	// further requests are possible.
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelInFlight:
		return "in_flight"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const CodeChannelClosed = "channel_closed"

// ChannelGuard enforces the Idle -> InFlight -> Idle discipline for one
// channel. It is the thing that turns a channel's "one request at a time"
// invariant from a convention into something Begin/End can't be called
// out of order without erroring.
type ChannelGuard struct {
	mu    sync.Mutex
	state ChannelState
}

// NewChannelGuard returns a guard starting Idle.
func NewChannelGuard() *ChannelGuard {
	return &ChannelGuard{state: ChannelIdle}
}

// Begin transitions Idle -> InFlight, returning an error if the channel is
// already InFlight (a caller bug: channels are request/response, never
// pipelined) or Closed.
func (g *ChannelGuard) Begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case ChannelClosed:
		return oops.Code(CodeChannelClosed).Errorf("lifecycle: channel is closed")
	case ChannelInFlight:
		return oops.Code(CodeInvalidTransition).Errorf("lifecycle: channel already has a request in flight")
	}
	g.state = ChannelInFlight
	return nil
}

// End transitions InFlight -> Idle. It is safe to call from a deferred
// statement even after Begin failed, since End on an already-Idle or
// Closed guard is a no-op rather than an error.
func (g *ChannelGuard) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == ChannelInFlight {
		g.state = ChannelIdle
	}
}

// Close transitions the guard to Closed from any state. Once closed, a
// guard never returns to Idle.
func (g *ChannelGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = ChannelClosed
}

// State returns the current state.
func (g *ChannelGuard) State() ChannelState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
