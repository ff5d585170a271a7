// Package nativehost loads a Windows VST2 plugin DLL and exposes it as a
// wh.PluginHost: the seam cmd/winhost (one plugin instance per process)
// and cmd/grouphost (many instances sharing one process) both build on
// top of internal/bridge/wh.
//
// The actual AEffect ABI calls only compile under GOOS=windows, since
// they go through cgo against the plugin's native calling convention;
// instance_other.go gives every other platform a stub that fails
// loudly instead of silently, so a misconfigured build surfaces the
// mistake immediately rather than at the first dispatch call.
package nativehost
