package nativeproxy

/*
#cgo CFLAGS: -D_GNU_SOURCE
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <dlfcn.h>
#include "np_abi.h"

extern intptr_t npDispatcherTrampoline(void *effect, int32_t opcode, int32_t index, intptr_t value, void *ptr, float opt);
extern void npProcessReplacingTrampoline(void *effect, float **inputs, float **outputs, int32_t sampleFrames);
extern void npSetParameterTrampoline(void *effect, int32_t index, float value);
extern float npGetParameterTrampoline(void *effect, int32_t index);

static AEffect *npBuildAEffect(void) {
    AEffect *e = (AEffect *)calloc(1, sizeof(AEffect));
    e->magic = NP_VST_MAGIC;
    e->dispatcher = (void *)npDispatcherTrampoline;
    e->processReplacing = (void *)npProcessReplacingTrampoline;
    e->setParameter = (void *)npSetParameterTrampoline;
    e->getParameter = (void *)npGetParameterTrampoline;
    e->flags = NP_EFF_FLAGS_CAN_REPLACING;
    return e;
}

// npSelfMarker exists purely so dladdr has a code address inside this
// shared object to resolve back to its own on-disk path -- the cgo
// equivalent of yabridge's get_this_file_location(), which uses the same
// dladdr-against-a-local-symbol trick in C++.
static void npSelfMarker(void) {}

static const char *npOwnPath(void) {
    Dl_info info;
    if (dladdr((void *)npSelfMarker, &info) == 0 || info.dli_fname == NULL) {
        return NULL;
    }
    return info.dli_fname;
}
*/
import "C"

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/group"
	"github.com/yabridge-go/bridge/internal/bridge/lifecycle"
	"github.com/yabridge-go/bridge/internal/bridge/np"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/internal/config"
	"github.com/yabridge-go/bridge/internal/logging"
	"github.com/yabridge-go/bridge/internal/notify"
	"github.com/yabridge-go/bridge/internal/observability"
	"github.com/yabridge-go/bridge/internal/xdg"
)

const (
	CodeStartupFailed = "nativeproxy_startup_failed"
	pluginKind         = "VST2"
	dispatchTimeout    = 30 * time.Second
	openTimeout        = 30 * time.Second
)

var version = "dev"

// registry maps a constructed AEffect pointer back to the Instance that
// owns it. Unlike internal/nativehost's registry, there is no bootstrap
// window to cover with a loadingInstance fallback: VSTPluginMain builds
// its own AEffect and registers it before the real host, or the plugin
// itself, can possibly call back into it, so every lookup always has a
// pointer to key on.
var (
	registryMu sync.Mutex
	registry   = map[uintptr]*Instance{}
)

// Instance is one loaded plugin's native-proxy side: the AEffect a real
// host calls into, the np.Bridge forwarding those calls to WH, and
// whatever handle (a spawned winhost process or a grouphost session) the
// bridge's channels came from.
type Instance struct {
	effect       *C.AEffect
	bridge       *np.Bridge
	hostCallback C.audioMasterCallback

	whClient     *plugin.Client      // individual mode only
	groupSession *group.ClientSession // group mode only

	obsServer *observability.Server
	logger    *slog.Logger

	serveCancel context.CancelFunc
	openPrimed  atomic.Bool

	mu       sync.Mutex
	chunkPtr unsafe.Pointer
	rectPtr  unsafe.Pointer
}

// VSTPluginMain is the shared object's VST2 entry point. Like yabridge's
// own VSTPluginMain, it does all of its fallible setup inside a single
// function and, on failure, logs, fires a desktop notification, and
// returns nil instead of letting a panic cross the cgo boundary. The
// legacy `main` alias yabridge also exports for EnergyXT is deliberately
// not reproduced: cgo's c-shared mode reserves the name `main` for the
// package entry point, and no plugin host this bridge targets needs it.
//
//export VSTPluginMain
func VSTPluginMain(hostCallback C.audioMasterCallback) *C.AEffect {
	logging.SetDefault("nativeproxy", version, "json")
	logger := slog.Default()

	ownPath := ownSharedObjectPath()

	inst, err := bootstrap(hostCallback, ownPath, logger)
	if err != nil {
		logger.Error("failed to initialize plugin", "error", err, "plugin", ownPath)
		notifyStartupFailure(ownPath, err)
		return nil
	}

	return inst.effect
}

func ownSharedObjectPath() string {
	cPath := C.npOwnPath()
	if cPath == nil {
		return ""
	}
	return C.GoString(cPath)
}

func notifyStartupFailure(pluginPath string, cause error) {
	n, err := notify.NewDBusNotifier()
	if err != nil {
		slog.Warn("failed to connect to session bus for startup notification", "error", err)
		return
	}
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	notify.NotifyStartupFailure(ctx, n, pluginKind, pluginPath, cause)
}

// bootstrap resolves configuration, connects to WH (spawning it directly
// in individual mode or requesting an instance from a running grouphost),
// builds the np.Bridge, and primes effOpen synchronously so the AEffect
// this returns already carries the real plugin's channel/parameter
// counts -- yabridge does the same sample round trip inside its own
// VSTPluginMain, for the handful of hosts that read those fields before
// ever calling dispatcher themselves.
func bootstrap(hostCallback C.audioMasterCallback, ownPath string, logger *slog.Logger) (*Instance, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: load config")
	}

	inst := &Instance{
		hostCallback: hostCallback,
		logger:       logger,
	}

	var metrics *observability.Metrics
	if cfg.ObservabilityAddr != "" {
		inst.obsServer = observability.NewServer(cfg.ObservabilityAddr, func() bool {
			return inst.bridge != nil && inst.bridge.Machine().State() == lifecycle.Running
		})
		if _, err := inst.obsServer.Start(); err != nil {
			logger.Warn("failed to start observability server", "error", err)
			inst.obsServer = nil
		} else {
			metrics = inst.obsServer.Metrics()
		}
	}

	machine := lifecycle.NewMachine()
	machine.MustTransition(lifecycle.Accepting)

	pluginDLL := derivePluginDLLPath(ownPath)

	var channels *rendezvous.Channels
	if cfg.GroupName != "" {
		channels, err = inst.joinGroup(cfg, pluginDLL)
	} else {
		channels, err = inst.launchIndividual(cfg, pluginDLL, logger)
	}
	if err != nil {
		if inst.obsServer != nil {
			_ = inst.obsServer.Stop(context.Background())
		}
		return nil, err
	}

	if err := machine.Transition(lifecycle.Running); err != nil {
		_ = channels.Close()
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: enter running state")
	}

	inst.bridge = np.New(channels, np.Config{
		HostSink:          inst,
		Machine:           machine,
		Metrics:           metrics,
		Logger:            logger,
		MIDIQueueCapacity: cfg.MIDIQueueCapacity,
	})

	inst.effect = C.npBuildAEffect()
	registryMu.Lock()
	registry[uintptr(unsafe.Pointer(inst.effect))] = inst
	registryMu.Unlock()

	serveCtx, cancel := context.WithCancel(context.Background())
	inst.serveCancel = cancel
	go func() {
		if err := inst.bridge.Serve(serveCtx); err != nil && serveCtx.Err() == nil {
			logger.Error("bridge serve loop exited", "error", err)
		}
	}()

	openCtx, openCancel := context.WithTimeout(context.Background(), openTimeout)
	result, err := inst.bridge.Dispatch(openCtx, wire.EffOpen, 0, 0, 0, convert.Hint{})
	openCancel()
	if err != nil {
		inst.shutdown()
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: prime effOpen")
	}
	_ = result

	desc := inst.bridge.Descriptor()
	inst.effect.numInputs = C.int32_t(desc.NumInputs)
	inst.effect.numOutputs = C.int32_t(desc.NumOutputs)
	inst.effect.numParams = C.int32_t(desc.NumParams)
	inst.effect.numPrograms = C.int32_t(desc.NumPrograms)
	inst.effect.flags = C.int32_t(desc.Flags) | C.NP_EFF_FLAGS_CAN_REPLACING
	inst.effect.uniqueID = C.int32_t(desc.UniqueID)
	inst.effect.version = C.int32_t(desc.Version)
	inst.effect.initialDelay = C.int32_t(desc.InitialDelay)
	inst.openPrimed.Store(true)

	return inst, nil
}

func loadConfig() (*config.Config, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return config.Load("", nil)
	}
	return config.Load(filepath.Join(dir, "config.yaml"), nil)
}

// derivePluginDLLPath assumes the bridged Windows plugin is installed
// next to this .so under the same base name with a .dll extension,
// mirroring how yabridgectl lays out a bridged plugin's two halves.
func derivePluginDLLPath(ownPath string) string {
	if ownPath == "" {
		return ""
	}
	ext := filepath.Ext(ownPath)
	return strings.TrimSuffix(ownPath, ext) + ".dll"
}

// launchIndividual spawns a dedicated winhost process for this one
// plugin instance, mirroring yabridge's default "individual" plugin
// hosting mode: one Wine process per loaded plugin, torn down with it.
func (inst *Instance) launchIndividual(cfg *config.Config, pluginDLL string, logger *slog.Logger) (*rendezvous.Channels, error) {
	scratchDir := cfg.ScratchDir
	if scratchDir == "" {
		dir, err := xdg.RuntimeDir()
		if err != nil {
			return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: resolve scratch dir")
		}
		scratchDir = dir
	}
	if err := xdg.EnsureDir(scratchDir); err != nil {
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: create scratch dir")
	}

	endpoint := rendezvous.NewEndpoint(scratchDir)
	listener, err := rendezvous.Listen(endpoint)
	if err != nil {
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: listen for WH")
	}

	winePrefix := cfg.WinePrefix
	if winePrefix == "" {
		prefix, err := xdg.DefaultWinePrefix()
		if err != nil {
			_ = listener.Close()
			return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: resolve wine prefix")
		}
		winePrefix = prefix
	}

	// winhost.exe is installed alongside the bridged plugin's own .dll,
	// one copy per plugin rather than one shared binary, the same way
	// yabridge symlinks a fresh yabridge-host.exe next to every bridged
	// plugin -- several Windows hosts misbehave if two unrelated plugins
	// both run under a binary with the same inode/path.
	winhostPath := strings.TrimSuffix(pluginDLL, filepath.Ext(pluginDLL)) + ".winhost.exe"

	cmd := exec.Command("wine", winhostPath,
		"--socket", endpoint.SocketPath,
		"--plugin", pluginDLL,
		"--log-format", cfg.LogFormat,
	)
	cmd.Env = append(os.Environ(), "WINEPREFIX="+winePrefix)

	sup, client, err := rendezvous.LaunchWH(cmd)
	if err != nil {
		_ = listener.Close()
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: launch WH")
	}
	inst.whClient = client

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RendezvousTimeout)
	defer cancel()

	if err := rendezvous.WaitForRendezvousReady(ctx, sup); err != nil {
		client.Kill()
		_ = listener.Close()
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: wait for WH rendezvous")
	}

	channels, err := listener.Accept(ctx)
	_ = listener.Close()
	if err != nil {
		client.Kill()
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: accept WH channels")
	}

	logger.Info("WH connected", "plugin", pluginDLL, "socket", endpoint.SocketPath)
	return channels, nil
}

// joinGroup requests one more instance from an already-running grouphost
// process instead of spawning a fresh WH, the multi-instance mode
// yabridge calls "plugin groups": every plugin sharing cfg.GroupName ends
// up hosted inside the same Wine process.
func (inst *Instance) joinGroup(cfg *config.Config, pluginDLL string) (*rendezvous.Channels, error) {
	scratchDir := cfg.ScratchDir
	if scratchDir == "" {
		dir, err := xdg.RuntimeDir()
		if err != nil {
			return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: resolve scratch dir")
		}
		scratchDir = dir
	}
	addr := filepath.Join(scratchDir, "group-"+cfg.GroupName+".sock")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RendezvousTimeout)
	defer cancel()

	session, err := group.DialGroup(ctx, addr)
	if err != nil {
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: dial group host")
	}
	inst.groupSession = session

	_, channels, err := session.RequestInstance(group.GroupRequest{
		PluginPath:   pluginDLL,
		RequesterPID: int32(os.Getpid()),
	})
	if err != nil {
		_ = session.Close()
		return nil, oops.Code(CodeStartupFailed).Wrapf(err, "nativeproxy: request group instance")
	}
	return channels, nil
}

// shutdown tears down everything bootstrap or a later effClose built:
// the serve loop, the bridge's channels, the spawned/shared WH handle,
// the observability server, and this instance's registry entry. It is
// safe to call more than once.
func (inst *Instance) shutdown() {
	if inst.serveCancel != nil {
		inst.serveCancel()
	}
	if inst.bridge != nil {
		_ = inst.bridge.Close()
	}
	if inst.whClient != nil {
		inst.whClient.Kill()
	}
	if inst.groupSession != nil {
		_ = inst.groupSession.Close()
	}
	if inst.obsServer != nil {
		_ = inst.obsServer.Stop(context.Background())
	}

	inst.mu.Lock()
	if inst.chunkPtr != nil {
		C.free(inst.chunkPtr)
		inst.chunkPtr = nil
	}
	if inst.rectPtr != nil {
		C.free(inst.rectPtr)
		inst.rectPtr = nil
	}
	inst.mu.Unlock()

	if inst.effect != nil {
		registryMu.Lock()
		delete(registry, uintptr(unsafe.Pointer(inst.effect)))
		registryMu.Unlock()
		C.free(unsafe.Pointer(inst.effect))
	}
}

func instanceForEffect(effect unsafe.Pointer) *Instance {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[uintptr(effect)]
}
