// Package observability provides HTTP endpoints for metrics and health
// checks, and the Prometheus metrics the bridge records for each of its
// five channels, the MIDI queue, and the bridge lifecycle state.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the bridge is ready to accept calls,
// i.e. whether its lifecycle Machine has reached the Running state.
type ReadinessChecker func() bool

// Metrics contains the Prometheus metrics the bridge records.
type Metrics struct {
	// ChannelCallLatency records how long each Call on a channel took,
	// labeled by channel name (dispatch, dispatch_midi, host_callback,
	// parameters, audio). The audio channel's histogram is the one an
	// operator actually watches for xrun risk.
	ChannelCallLatency *prometheus.HistogramVec
	// ChannelErrorsTotal counts Call/Serve failures by channel and error
	// code (codec_truncated, channel_closed, and so on).
	ChannelErrorsTotal *prometheus.CounterVec
	// MIDIQueueDepth tracks how many host-bound MIDI events are currently
	// buffered waiting for the next audio block's drain.
	MIDIQueueDepth prometheus.Gauge
	// MIDIQueueDropsTotal counts events dropped because the queue hit its
	// bound (see internal/bridge/np's MIDI queue).
	MIDIQueueDropsTotal prometheus.Counter
	// LifecycleState is 1 for the bridge's current lifecycle.State and 0
	// for every other state, labeled by state name, so a single gauge
	// query shows the current stage without needing state-change events.
	LifecycleState *prometheus.GaugeVec
}

// NewMetrics creates and registers the bridge's custom Prometheus metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChannelCallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yabridge_channel_call_duration_seconds",
				Help:    "Duration of request/response round trips per channel.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"channel"},
		),
		ChannelErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yabridge_channel_errors_total",
				Help: "Total channel errors by channel and error code.",
			},
			[]string{"channel", "code"},
		),
		MIDIQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yabridge_midi_queue_depth",
			Help: "Current number of host-bound MIDI events buffered for the next block's drain.",
		}),
		MIDIQueueDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yabridge_midi_queue_drops_total",
			Help: "Total host-bound MIDI events dropped because the queue was full.",
		}),
		LifecycleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yabridge_lifecycle_state",
				Help: "1 for the bridge's current lifecycle state, 0 otherwise.",
			},
			[]string{"state"},
		),
	}

	reg.MustRegister(
		m.ChannelCallLatency,
		m.ChannelErrorsTotal,
		m.MIDIQueueDepth,
		m.MIDIQueueDropsTotal,
		m.LifecycleState,
	)

	return m
}

// SetLifecycleState zeroes every other state's gauge and sets state's to
// 1, so /metrics always shows exactly one active lifecycle state.
func (m *Metrics) SetLifecycleState(states []string, current string) {
	for _, s := range states {
		if s == current {
			m.LifecycleState.WithLabelValues(s).Set(1)
		} else {
			m.LifecycleState.WithLabelValues(s).Set(0)
		}
	}
}

// Server provides HTTP endpoints for observability (metrics and health
// probes), served over a loopback HTTP listener rather than a second RPC
// control plane -- external monitoring hits the /healthz/readiness
// endpoint this exposes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the custom metrics for recording bridge events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints. It returns an error
// channel that will receive any errors from the HTTP server after it
// starts; the channel is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on, or empty if not
// running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
