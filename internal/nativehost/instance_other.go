//go:build !windows

package nativehost

import (
	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

const CodeUnsupportedPlatform = "nativehost_unsupported_platform"

// Instance is the non-Windows stub: winhost and grouphost are only ever
// actually run under Wine (a GOOS=windows cross build), so this build
// exists purely so the rest of the module stays buildable on the Linux
// host without the cgo/Windows half, the same way the real yabridge
// keeps its plugin and host halves in entirely separate build targets.
type Instance struct{}

// Load always fails outside of a GOOS=windows build.
func Load(_ string) (*Instance, error) {
	return nil, oops.Code(CodeUnsupportedPlatform).Errorf("nativehost: loading a VST2 DLL requires a GOOS=windows build running under Wine")
}

func (i *Instance) Dispatch(wire.Opcode, int32, int64, float32, convert.Hint) (int64, convert.Hint, error) {
	return 0, convert.Hint{}, oops.Code(CodeUnsupportedPlatform).Errorf("nativehost: unsupported platform")
}

func (i *Instance) ProcessReplacing(wire.AudioBuffers, bool) (wire.AudioBuffers, error) {
	return wire.AudioBuffers{}, oops.Code(CodeUnsupportedPlatform).Errorf("nativehost: unsupported platform")
}

func (i *Instance) GetParameter(int32) (float32, error) {
	return 0, oops.Code(CodeUnsupportedPlatform).Errorf("nativehost: unsupported platform")
}

func (i *Instance) SetParameter(int32, float32) error {
	return oops.Code(CodeUnsupportedPlatform).Errorf("nativehost: unsupported platform")
}

func (i *Instance) Close() error { return nil }
