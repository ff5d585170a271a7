package nativeproxy

// #include <stdbool.h>
import "C"

import (
	"log/slog"
	"sync"
	"unsafe"
)

// clapInitOnce/clapDeinitOnce enforce CLAP's clap_plugin_entry_t
// contract: a host may call init more than once (it often probes a
// bundle before deciding to load it, then loads it for real) but this
// bridge's own one-time setup work must run exactly once process-wide,
// shared across every plugin instance the process ends up hosting.
// deinit gets the same guarantee for the matching teardown.
var (
	clapInitOnce   sync.Once
	clapInitResult bool
	clapDeinitOnce sync.Once
)

// clapEntryInit backs clap_entry.init. The symbol clap_entry itself is
// defined in clap_entry.c, the same split this package's VST2 trampolines use
// to keep the AEffect vtable's C-visible function pointers in a tiny C
// shim while the actual logic stays in Go.
//
//export clapEntryInit
func clapEntryInit(pluginPath *C.char) C.bool {
	clapInitOnce.Do(func() {
		slog.Default().Info("CLAP entry initialized", "plugin_path", C.GoString(pluginPath))
		clapInitResult = true
	})
	return C.bool(clapInitResult)
}

// clapEntryDeinit backs clap_entry.deinit.
//
//export clapEntryDeinit
func clapEntryDeinit() {
	clapDeinitOnce.Do(func() {
		slog.Default().Info("CLAP entry deinitialized")
	})
}

// clapEntryGetFactory backs clap_entry.get_factory. Only the VST2
// AEffect path is wired end to end; this bridge does not yet expose a
// CLAP plugin factory, so every factory_id is answered the way a CLAP
// module that doesn't implement the requested factory would: nil.
//
//export clapEntryGetFactory
func clapEntryGetFactory(factoryID *C.char) unsafe.Pointer {
	_ = factoryID
	return nil
}
