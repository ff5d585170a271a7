// Package lifecycle implements the bridge's two state machines: the
// overall bridge instance (Init -> Accepting -> Running -> Closing -> Dead)
// and the per-channel request/response cycle (Idle -> InFlight -> Idle)
// each of the five duplex channels enforces independently.
package lifecycle

import (
	"sync"

	"github.com/samber/oops"
)

// State is a bridge instance's lifecycle stage.
type State uint8

const (
	// Init: the native proxy has constructed the bridge but has not yet
	// created the rendezvous socket or spawned the Windows host.
	Init State = iota
	// Accepting: the rendezvous socket exists and NP is waiting for WH to
	// connect all five channels in their fixed order.
	Accepting
	// Running: all five channels are connected; the bridge is forwarding
	// dispatcher/audio/parameter calls in both directions.
	Running
	// Closing: effClose (or an unrecoverable channel error) has begun
	// shutdown; in-flight calls are being drained or abandoned.
	Closing
	// Dead: every channel is closed and the WH process has exited or been
	// killed. A bridge in this state cannot be reused.
	Dead
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Accepting:
		return "accepting"
	case Running:
		return "running"
	case Closing:
		return "closing"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// transitions enumerates every legal State -> State edge. Any edge not
// listed here is a programming error, not a runtime condition the caller
// can recover from by retrying.
var transitions = map[State]map[State]bool{
	Init:      {Accepting: true, Closing: true},
	Accepting: {Running: true, Closing: true},
	Running:   {Closing: true},
	Closing:   {Dead: true},
	Dead:      {},
}

const CodeInvalidTransition = "lifecycle_invalid_transition"

// Machine guards a bridge instance's lifecycle state behind a mutex so
// the rendezvous acceptor goroutine, the channel readers, and the
// supervisor's liveness probe can all observe and transition it safely.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a Machine starting in Init.
func NewMachine() *Machine {
	return &Machine{state: Init}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine to next, returning an error if the edge
// from the current state isn't legal.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !transitions[m.state][next] {
		return oops.Code(CodeInvalidTransition).
			With("from", m.state.String()).
			With("to", next.String()).
			Errorf("lifecycle: illegal transition from %s to %s", m.state, next)
	}
	m.state = next
	return nil
}

// MustTransition panics on an illegal edge. It exists for call sites where
// the edge is a local invariant (e.g. Init -> Accepting right after
// NewMachine) rather than something a caller need handle as a runtime
// error.
func (m *Machine) MustTransition(next State) {
	if err := m.Transition(next); err != nil {
		panic(err)
	}
}
