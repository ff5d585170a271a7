//go:build windows

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/group"
	"github.com/yabridge-go/bridge/internal/bridge/lifecycle"
	"github.com/yabridge-go/bridge/internal/bridge/wh"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/internal/config"
	"github.com/yabridge-go/bridge/internal/logging"
	"github.com/yabridge-go/bridge/internal/nativehost"
	"github.com/yabridge-go/bridge/internal/observability"
	"github.com/yabridge-go/bridge/internal/xdg"
)

// runGroupHost loads configuration, opens the group rendezvous socket for
// cfg.groupName, and serves instance requests until ctx is cancelled.
// Unlike winhost's runHost, there is no supervisor handshake to satisfy
// before accepting work: nativeproxy's group.DialGroup either connects to
// an already-listening socket or fails outright, so there's no startup
// race to paper over with a background goroutine.
func runGroupHost(ctx context.Context, cfg *groupConfig) error {
	logging.SetDefault("grouphost", version, cfg.logFormat)
	logger := slog.Default().With("group", cfg.groupName)

	appCfg, err := config.Load(configFile, nil)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	scratchDir := appCfg.ScratchDir
	if scratchDir == "" {
		dir, err := xdg.RuntimeDir()
		if err != nil {
			logger.Error("failed to resolve scratch dir", "error", err)
			return err
		}
		scratchDir = dir
	}
	if err := xdg.EnsureDir(scratchDir); err != nil {
		logger.Error("failed to create scratch dir", "error", err)
		return err
	}

	addr := filepath.Join(scratchDir, "group-"+cfg.groupName+".sock")

	var activeInstances atomic.Int64
	var obsServer *observability.Server
	if cfg.observabilityAddr != "" {
		obsServer = observability.NewServer(cfg.observabilityAddr, func() bool { return true })
		if _, err := obsServer.Start(); err != nil {
			logger.Warn("failed to start observability server", "error", err)
			obsServer = nil
		}
	}
	var metrics *observability.Metrics
	if obsServer != nil {
		metrics = obsServer.Metrics()
	}

	srv, err := group.Listen(addr)
	if err != nil {
		logger.Error("failed to listen on group socket", "error", err, "addr", addr)
		return err
	}
	defer srv.Close()

	logger.Info("grouphost listening", "addr", addr)

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	for {
		session, err := srv.AcceptSession()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("failed to accept group session", "error", err)
			continue
		}
		go serveSession(ctx, session, metrics, logger, &activeInstances)
	}
}

// serveSession handles every instance request a single connected
// nativeproxy process sends over its lifetime, loading one plugin DLL per
// accepted request and running its wh.Bridge until that instance's
// channels close, independent of every other instance sharing this
// session or this grouphost process.
func serveSession(ctx context.Context, session *group.ServerSession, metrics *observability.Metrics, logger *slog.Logger, activeInstances *atomic.Int64) {
	defer session.Close()

	for {
		req, responder, err := session.AcceptRequest()
		if err != nil {
			if ctx.Err() == nil {
				logger.Info("group session ended", "error", err)
			}
			return
		}

		instLogger := logger.With("plugin", req.PluginPath, "requester_pid", req.RequesterPID)
		go serveInstance(ctx, req, responder, metrics, instLogger, activeInstances)
	}
}

// serveInstance loads req.PluginPath, accepts the five data streams the
// requester opens next, and serves a wh.Bridge over them until they
// close. Each instance gets its own plugin DLL load: grouphost shares one
// Wine process but never one AEffect between instances.
func serveInstance(ctx context.Context, req group.GroupRequest, responder *group.Responder, metrics *observability.Metrics, logger *slog.Logger, activeInstances *atomic.Int64) {
	inst, err := nativehost.Load(req.PluginPath)
	if err != nil {
		logger.Error("failed to load plugin", "error", err)
		_ = responder.Reject(err.Error())
		return
	}

	instanceID := ulid.Make().String()
	channels, err := responder.Accept(instanceID)
	if err != nil {
		logger.Error("failed to accept instance channels", "error", err)
		_ = inst.Close()
		return
	}
	logger = logger.With("instance_id", instanceID)

	activeInstances.Add(1)
	defer activeInstances.Add(-1)

	machine := lifecycle.NewMachine()
	machine.MustTransition(lifecycle.Accepting)
	machine.MustTransition(lifecycle.Running)

	bridge := wh.New(channels, wh.Config{
		Host:    inst,
		Machine: machine,
		Metrics: metrics,
		Logger:  logger,
	})
	inst.SetHostCallback(func(opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (wire.EventResult, error) {
		return bridge.HostCallback(context.Background(), opcode, index, value, opt, hint)
	})

	logger.Info("instance started")
	if err := bridge.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("instance bridge serve loop exited", "error", err)
	}

	_ = bridge.Close()
	_ = inst.Close()
	logger.Info("instance stopped")
}
