// Command nativeproxy is not a program a user runs directly. It exists so
// `go build -buildmode=c-shared` has a main package to compile: cgo's
// -buildmode=c-shared only emits an output .so's C export table for the
// main package being built, and internal/nativeproxy's //export'd
// VSTPluginMain and its trampolines live in a plain library package so
// that the rest of the bridge (and its tests) can import it without
// dragging cgo into every build. This mirrors how vst3go keeps its own
// //export surface in pkg/plugin and ships a one-line package main per
// plugin purely to give the C toolchain something to link against.
//
// A real VST2 host never calls main(); it dlopen()s the resulting
// libnativeproxy.so and jumps straight to VSTPluginMain.
package main

import (
	_ "github.com/yabridge-go/bridge/internal/nativeproxy"
)

func main() {}
