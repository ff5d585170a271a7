package rendezvous

import (
	"net/rpc"
	"os/exec"
	"time"

	"github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
)

// HandshakeConfig is the magic-cookie handshake NP and WH agree on before
// go-plugin trusts the spawned process is actually a yabridge-go Windows
// host and not something else entirely that happened to be launched.
// Using go-plugin here instead of a bespoke PID-liveness loop gets us
// this handshake, structured stderr log forwarding, and clean process
// teardown for free.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "YABRIDGE_GO_SUPERVISOR",
	MagicCookieValue: "a45f3d9e-host-supervisor",
}

// Supervisor is the small net/rpc service WH exposes so NP can confirm
// it's alive and ready before attempting to use it, and poll it
// thereafter as a liveness check independent of the five data channels
// (which can legitimately sit idle between host calls).
type Supervisor interface {
	Ping(args struct{}, reply *string) error
	Status(args struct{}, reply *SupervisorStatus) error
}

// SupervisorStatus reports WH's self-observed health.
type SupervisorStatus struct {
	PID             int
	RendezvousReady bool
	PluginLoaded    bool
}

// SupervisorRPC adapts a Supervisor implementation to net/rpc's calling
// convention, which go-plugin's NetRPCPlugin wraps again for the wire.
type SupervisorRPC struct {
	Impl Supervisor
}

func (s *SupervisorRPC) Ping(args struct{}, reply *string) error {
	return s.Impl.Ping(args, reply)
}

func (s *SupervisorRPC) Status(args struct{}, reply *SupervisorStatus) error {
	return s.Impl.Status(args, reply)
}

// SupervisorClient is the NP-side handle to a running WH's Supervisor
// service, obtained by dialing the net/rpc connection go-plugin set up.
type SupervisorClient struct {
	client *rpc.Client
}

func (c *SupervisorClient) Ping() (string, error) {
	var reply string
	if err := c.client.Call("Plugin.Ping", struct{}{}, &reply); err != nil {
		return "", oops.Wrapf(err, "supervisor: ping")
	}
	return reply, nil
}

func (c *SupervisorClient) Status() (SupervisorStatus, error) {
	var reply SupervisorStatus
	if err := c.client.Call("Plugin.Status", struct{}{}, &reply); err != nil {
		return SupervisorStatus{}, oops.Wrapf(err, "supervisor: status")
	}
	return reply, nil
}

// SupervisorPlugin is the go-plugin net/rpc Plugin implementation shared
// by both sides: WH's main() registers it with Impl set to its real
// Supervisor; NP's launcher registers it with Impl nil since it only
// ever calls Client.
type SupervisorPlugin struct {
	Impl Supervisor
}

func (p *SupervisorPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &SupervisorRPC{Impl: p.Impl}, nil
}

func (p *SupervisorPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &SupervisorClient{client: c}, nil
}

// pluginMap is the go-plugin plugin set NP and WH both register under the
// same key; WH serves it, NP consumes it.
func pluginMap(impl Supervisor) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		"supervisor": &SupervisorPlugin{Impl: impl},
	}
}

// LaunchWH starts cmd as a go-plugin net/rpc plugin process and returns a
// SupervisorClient for it plus the underlying plugin.Client, which the
// caller must Kill when the bridge shuts down. Individual (non-group)
// mode uses this for every plugin instance; group mode launches WH once
// per group instead and this path isn't used for subsequent instances.
func LaunchWH(cmd *exec.Cmd) (*SupervisorClient, *plugin.Client, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         pluginMap(nil),
		Cmd:             cmd,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		StartTimeout:    30 * time.Second,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, oops.Wrapf(err, "supervisor: connect to launched host")
	}

	raw, err := rpcClient.Dispense("supervisor")
	if err != nil {
		client.Kill()
		return nil, nil, oops.Wrapf(err, "supervisor: dispense")
	}

	sup, ok := raw.(*SupervisorClient)
	if !ok {
		client.Kill()
		return nil, nil, oops.Errorf("supervisor: unexpected dispensed type %T", raw)
	}

	return sup, client, nil
}

// ServeWH runs on the WH side: it blocks serving the Supervisor RPC
// service over go-plugin's stdio-based handshake until NP kills the
// process. impl reports WH's real rendezvous/plugin-load status.
func ServeWH(impl Supervisor) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         pluginMap(impl),
	})
}
