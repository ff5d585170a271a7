// Package group implements group-host multiplexing: many plugin
// instances sharing one long-lived Windows host process instead of one
// WH process per instance. Unlike individual mode's fresh Unix socket
// per instance (internal/bridge/rendezvous), group mode keeps a single
// persistent connection to cmd/grouphost open and multiplexes every
// instance's control handshake and five data channels over it as
// hashicorp/yamux streams.
package group

import (
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// GroupRequest is what a native proxy sends on a freshly opened yamux
// stream to ask grouphost to host one more plugin instance inside its
// supervised WH process.
type GroupRequest struct {
	PluginPath string
	UniqueID   int32
	// RequesterPID is NP's own process ID, recorded so grouphost can
	// detect the requester dying (its connection closing) and tear the
	// instance down even if NP never sent an explicit release.
	RequesterPID int32
}

func (r GroupRequest) Serialize(w *wire.Writer) {
	w.WriteString(r.PluginPath)
	w.WriteI32(r.UniqueID)
	w.WriteI32(r.RequesterPID)
}

func DeserializeGroupRequest(r *wire.Reader) (GroupRequest, error) {
	var req GroupRequest
	var err error
	if req.PluginPath, err = r.ReadString("group_request.plugin_path"); err != nil {
		return req, err
	}
	if req.UniqueID, err = r.ReadI32("group_request.unique_id"); err != nil {
		return req, err
	}
	if req.RequesterPID, err = r.ReadI32("group_request.requester_pid"); err != nil {
		return req, err
	}
	return req, nil
}

// GroupResponse answers a GroupRequest. When Accepted is false, Reason
// explains why (group full, plugin path mismatch with the group's
// already-loaded architecture, and so on) and no further streams should
// be opened on this session for this instance.
type GroupResponse struct {
	Accepted   bool
	Reason     string
	InstanceID string
}

func (r GroupResponse) Serialize(w *wire.Writer) {
	w.WriteBool(r.Accepted)
	w.WriteString(r.Reason)
	w.WriteString(r.InstanceID)
}

func DeserializeGroupResponse(r *wire.Reader) (GroupResponse, error) {
	var resp GroupResponse
	var err error
	if resp.Accepted, err = r.ReadBool("group_response.accepted"); err != nil {
		return resp, err
	}
	if resp.Reason, err = r.ReadString("group_response.reason"); err != nil {
		return resp, err
	}
	if resp.InstanceID, err = r.ReadString("group_response.instance_id"); err != nil {
		return resp, err
	}
	return resp, nil
}
