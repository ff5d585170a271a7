package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return New(Dispatch, client), New(Dispatch, server)
}

func TestCallServeRoundTrip(t *testing.T) {
	client, server := pipePair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = server.Serve(ctx, func(req []byte) ([]byte, error) {
			return append([]byte("echo:"), req...), nil
		})
	}()

	resp, err := client.Call(context.Background(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(resp))
}

func TestCallMarksInFlightWhileAwaitingResponse(t *testing.T) {
	client, server := pipePair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	go func() {
		_ = server.Serve(ctx, func(req []byte) ([]byte, error) {
			<-release
			return req, nil
		})
	}()

	done := make(chan struct{})
	go func() {
		_, _ = client.Call(context.Background(), []byte("first"))
		close(done)
	}()

	// Give the first Call a moment to take the mutex and mark InFlight.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, client.guard.State().String(), "in_flight")

	close(release)
	<-done
}

func TestCloseMarksChannelClosed(t *testing.T) {
	client, _ := pipePair(t)
	require.NoError(t, client.Close())
	assert.Equal(t, "closed", client.State().String())
}
