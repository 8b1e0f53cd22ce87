// Package metrics exposes the bridge's frame accounting as Prometheus
// gauges backed by lock-free atomic counters, cheap enough to bump from
// the encode hot path.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge counters. The zero value is not usable; call
// New so the Prometheus collectors are registered.
type Metrics struct {
	FramesReceived  atomic.Uint64
	FramesEncoded   atomic.Uint64
	FramesDropped   atomic.Uint64
	KeyframesForced atomic.Uint64
	SamplesDropped  atomic.Uint64
	BytesOut        atomic.Uint64
	PoseMisses      atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its collectors registered on a
// private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"framebridge_frames_received_total", "Frames received from the producer", m.FramesReceived.Load},
		{"framebridge_frames_encoded_total", "Frames successfully encoded", m.FramesEncoded.Load},
		{"framebridge_frames_dropped_total", "Frames dropped by flow control or submit failure", m.FramesDropped.Load},
		{"framebridge_keyframes_forced_total", "Keyframes forced by the scheduler", m.KeyframesForced.Load},
		{"framebridge_samples_dropped_total", "Encoded samples discarded during bitstream conversion", m.SamplesDropped.Load},
		{"framebridge_bytes_out_total", "Annex B bytes handed to the outbound sink", m.BytesOut.Load},
		{"framebridge_pose_misses_total", "Frames with no pose-history match", m.PoseMisses.Load},
	}
	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
