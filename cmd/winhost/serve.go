//go:build windows

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/lifecycle"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wh"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/internal/config"
	"github.com/yabridge-go/bridge/internal/logging"
	"github.com/yabridge-go/bridge/internal/nativehost"
	"github.com/yabridge-go/bridge/internal/observability"
)

// runHost is winhost's entry point. Its most important property is
// ordering: rendezvous.ServeWH blocks running go-plugin's stdio-based
// RPC server, and go-plugin's handshake has its own short startup
// timeout on the nativeproxy side, so the actual socket dial and DLL
// load -- either of which can legitimately take a while under Wine --
// happen in a background goroutine instead of before ServeWH is called.
func runHost(ctx context.Context, cfg *hostConfig) error {
	logging.SetDefault("winhost", version, cfg.logFormat)
	logger := slog.Default()

	sup := &hostSupervisor{}

	var obsServer *observability.Server
	if cfg.observabilityAddr != "" {
		obsServer = observability.NewServer(cfg.observabilityAddr, func() bool {
			sup.mu.Lock()
			defer sup.mu.Unlock()
			return sup.rendezvousReady && sup.pluginLoaded
		})
		if _, err := obsServer.Start(); err != nil {
			logger.Warn("failed to start observability server", "error", err)
			obsServer = nil
		}
	}

	go bringUp(ctx, cfg, sup, obsServer, logger)

	rendezvous.ServeWH(sup)
	return nil
}

// bringUp dials the rendezvous socket nativeproxy is listening on, loads
// the plugin DLL, and serves the bridge until ctx is cancelled or the
// connection drops. Any failure here surfaces only through Status's
// RendezvousReady/PluginLoaded flags staying false -- nativeproxy is the
// one that decides how long to wait before giving up and reporting
// CodeStartupFailed, via rendezvous.WaitForRendezvousReady.
func bringUp(ctx context.Context, cfg *hostConfig, sup *hostSupervisor, obsServer *observability.Server, logger *slog.Logger) {
	flags := pflag.NewFlagSet("winhost", pflag.ContinueOnError)
	appCfg, err := config.Load(configFile, flags)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, appCfg.RendezvousTimeout)
	defer cancel()

	channels, err := rendezvous.Dial(dialCtx, rendezvous.Endpoint{SocketPath: cfg.socketPath})
	if err != nil {
		logger.Error("failed to dial rendezvous socket", "error", err, "socket", cfg.socketPath)
		return
	}
	sup.setRendezvousReady(true)
	logger.Info("rendezvous channels connected", "socket", cfg.socketPath)

	inst, err := nativehost.Load(cfg.pluginPath)
	if err != nil {
		logger.Error("failed to load plugin", "error", err, "plugin", cfg.pluginPath)
		_ = channels.Close()
		return
	}
	sup.setPluginLoaded(true)
	logger.Info("plugin loaded", "plugin", cfg.pluginPath)

	machine := lifecycle.NewMachine()
	machine.MustTransition(lifecycle.Accepting)
	machine.MustTransition(lifecycle.Running)

	var metrics *observability.Metrics
	if obsServer != nil {
		metrics = obsServer.Metrics()
	}

	bridge := wh.New(channels, wh.Config{
		Host:    inst,
		Machine: machine,
		Metrics: metrics,
		Logger:  logger,
	})
	inst.SetHostCallback(func(opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (wire.EventResult, error) {
		return bridge.HostCallback(context.Background(), opcode, index, value, opt, hint)
	})

	if err := bridge.Serve(ctx); err != nil {
		logger.Error("bridge serve loop exited", "error", err)
	}

	_ = bridge.Close()
	sup.setRendezvousReady(false)
}
