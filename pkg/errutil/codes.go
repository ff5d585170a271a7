// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 yabridge-go Contributors

package errutil

// Bridge-wide oops error codes that don't belong to any one package:
// startup and rendezvous failures span nativeproxy, winhost, and
// grouphost, so they live here rather than being duplicated per package
// the way internal/bridge/wire and internal/bridge/lifecycle own their
// own narrower codec/lifecycle codes.
const (
	// CodeStartupFailed marks a failure constructing the bridge before it
	// ever reaches Accepting: WH couldn't be spawned, the rendezvous
	// socket couldn't be created, or the plugin's own constructor paniced.
	// No package raises this code: internal/nativeproxy tags its startup
	// errors with its own CodeStartupFailed ("nativeproxy_startup_failed").
	CodeStartupFailed = "startup_failed"
	// CodeProtocolMismatch marks NP and WH disagreeing about what the
	// wire is supposed to carry: a WH that dials the rendezvous channels
	// out of order, a parameter reply that violates the get/Some vs.
	// set/None discipline, or an audio reply whose shape doesn't match
	// the request it answers.
	CodeProtocolMismatch = "protocol_mismatch"
	// CodeHostPreInit marks a dispatcher call that arrived before the
	// plugin had finished initializing (the Ardour 5.x workaround: a host
	// issuing effEditGetRect or similar before effOpen has returned).
	CodeHostPreInit = "host_pre_init"
	// CodeNotImplemented marks a deliberately stubbed operation, such as
	// VST3's XML representation controller.
	CodeNotImplemented = "not_implemented"
)
