// Package metrics holds the Prometheus instrumentation for the recording
// client. A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the recording client.
type Metrics struct {
	reg *prometheus.Registry

	// Capture
	FramesCaptured prometheus.Counter

	// Sessions
	MessagesSent     *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec

	// Recorder
	Transitions       *prometheus.CounterVec
	Recordings        *prometheus.CounterVec
	RecordingDuration prometheus.Histogram
}

// New creates the metrics on their own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "summit_frames_captured_total",
			Help: "Total number of PCM16 frames produced by the microphone",
		}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_messages_sent_total",
			Help: "Messages queued on an open socket",
		}, []string{"session"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_messages_dropped_total",
			Help: "Messages dropped because the socket was down or its queue full",
		}, []string{"session"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_messages_received_total",
			Help: "Server messages by session and type",
		}, []string{"session", "type"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_reconnects_total",
			Help: "Reconnect attempts after an unexpected close",
		}, []string{"session"}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_protocol_errors_total",
			Help: "Malformed server messages discarded",
		}, []string{"session"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_state_transitions_total",
			Help: "Recording state machine transitions by target state",
		}, []string{"to"}),
		Recordings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_recordings_total",
			Help: "Finished recordings by outcome",
		}, []string{"outcome"}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "summit_recording_duration_seconds",
			Help:    "Duration reported by the backend for saved recordings",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~42 minutes
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) MessageSent(session string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(session).Inc()
}

func (m *Metrics) MessageDropped(session string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(session).Inc()
}

func (m *Metrics) MessageReceived(session, typ string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(session, typ).Inc()
}

func (m *Metrics) Reconnect(session string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(session).Inc()
}

func (m *Metrics) ProtocolError(session string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(session).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

// RecordingFinished counts a terminal upload outcome. duration is only
// observed for saved recordings.
func (m *Metrics) RecordingFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Recordings.WithLabelValues(outcome).Inc()
	if outcome == "saved" && duration > 0 {
		m.RecordingDuration.Observe(duration.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics server listening", slog.String("address", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
