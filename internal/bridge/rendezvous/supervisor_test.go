package rendezvous

import (
	"context"
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	ready   bool
	loaded  bool
	pingMsg string
}

func (f *fakeSupervisor) Ping(_ struct{}, reply *string) error {
	*reply = f.pingMsg
	return nil
}

func (f *fakeSupervisor) Status(_ struct{}, reply *SupervisorStatus) error {
	*reply = SupervisorStatus{PID: 1234, RendezvousReady: f.ready, PluginLoaded: f.loaded}
	return nil
}

func newClientForTest(t *testing.T, impl Supervisor) *SupervisorClient {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", &SupervisorRPC{Impl: impl}))
	go server.ServeConn(serverConn)

	return &SupervisorClient{client: rpc.NewClient(clientConn)}
}

func TestSupervisorClientPing(t *testing.T) {
	client := newClientForTest(t, &fakeSupervisor{pingMsg: "pong"})

	reply, err := client.Ping()
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestSupervisorClientStatus(t *testing.T) {
	client := newClientForTest(t, &fakeSupervisor{ready: true, loaded: true})

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, 1234, status.PID)
	assert.True(t, status.RendezvousReady)
	assert.True(t, status.PluginLoaded)
}

func TestWaitForRendezvousReadyEventuallySucceeds(t *testing.T) {
	impl := &fakeSupervisor{ready: false}
	client := newClientForTest(t, impl)

	go func() {
		time.Sleep(30 * time.Millisecond)
		impl.ready = true
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, WaitForRendezvousReady(ctx, client))
}

func TestWaitForRendezvousReadyTimesOut(t *testing.T) {
	client := newClientForTest(t, &fakeSupervisor{ready: false})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := WaitForRendezvousReady(ctx, client)
	require.Error(t, err)
}
