package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Init, m.State())

	require.NoError(t, m.Transition(Accepting))
	require.NoError(t, m.Transition(Running))
	require.NoError(t, m.Transition(Closing))
	require.NoError(t, m.Transition(Dead))
	assert.Equal(t, Dead, m.State())
}

func TestMachineRejectsSkippingAccepting(t *testing.T) {
	m := NewMachine()
	err := m.Transition(Running)
	require.Error(t, err)
	assert.Equal(t, Init, m.State())
}

func TestMachineRejectsLeavingDead(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Transition(Accepting))
	require.NoError(t, m.Transition(Closing))
	require.NoError(t, m.Transition(Dead))

	err := m.Transition(Init)
	require.Error(t, err)
}

func TestMachineAllowsAbortFromAnyPreClosingState(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Transition(Closing))
	require.NoError(t, m.Transition(Dead))
}

func TestChannelGuardRejectsDoubleBegin(t *testing.T) {
	g := NewChannelGuard()
	require.NoError(t, g.Begin())

	err := g.Begin()
	require.Error(t, err)

	g.End()
	require.NoError(t, g.Begin())
}

func TestChannelGuardClosedRejectsBegin(t *testing.T) {
	g := NewChannelGuard()
	g.Close()

	err := g.Begin()
	require.Error(t, err)
	assert.Equal(t, ChannelClosed, g.State())
}

func TestChannelGuardEndIsIdempotent(t *testing.T) {
	g := NewChannelGuard()
	g.End()
	g.End()
	assert.Equal(t, ChannelIdle, g.State())
}
