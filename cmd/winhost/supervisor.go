//go:build windows

package main

import (
	"os"
	"sync"

	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
)

// hostSupervisor is winhost's rendezvous.Supervisor implementation:
// nativeproxy polls it over go-plugin's net/rpc handshake while the real
// rendezvous dial and plugin load happen in a background goroutine (see
// runHost), so the handshake itself never blocks on either of those.
type hostSupervisor struct {
	mu              sync.Mutex
	rendezvousReady bool
	pluginLoaded    bool
}

func (s *hostSupervisor) Ping(struct{}, *string) error {
	return nil
}

func (s *hostSupervisor) Status(_ struct{}, reply *rendezvous.SupervisorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = rendezvous.SupervisorStatus{
		PID:             os.Getpid(),
		RendezvousReady: s.rendezvousReady,
		PluginLoaded:    s.pluginLoaded,
	}
	return nil
}

func (s *hostSupervisor) setRendezvousReady(ready bool) {
	s.mu.Lock()
	s.rendezvousReady = ready
	s.mu.Unlock()
}

func (s *hostSupervisor) setPluginLoaded(loaded bool) {
	s.mu.Lock()
	s.pluginLoaded = loaded
	s.mu.Unlock()
}
