// Package nativeproxy implements the native proxy's cgo boundary: the
// exported VSTPluginMain a real Linux VST2 host loads, and the AEffect
// dispatcher/process/setParameter/getParameter entry points it calls.
// Every exported function decodes the real host's raw arguments into the
// plain Go types internal/bridge/np.Bridge understands, forwards the
// call across the rendezvous channels, and encodes whatever comes back
// into the native buffer shapes the host expects -- the mirror image of
// what internal/nativehost does for WH's side of the same boundary.
//
// cmd/nativeproxy's own main.go only needs to exist so `go build
// -buildmode=c-shared` has a package main to link; every export and all
// of the actual bootstrap logic lives here so it can be grounded,
// reviewed, and (conceptually) tested independently of the final .so.
package nativeproxy
