// Copyright 2022 The klvsync Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"klvsync/pkg/pipeline"
)

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	frames        prometheus.Counter
	lateFrames    prometheus.Counter
	frameInterval prometheus.Histogram
	records       prometheus.Counter
	pipelineState prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klvsync_frames_total",
			Help: "Observed video frames.",
		}),
		lateFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klvsync_late_frames_total",
			Help: "Frames whose inter-frame interval exceeded the budget.",
		}),
		frameInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klvsync_frame_interval_seconds",
			Help:    "Wall-clock time between consecutive frames.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klvsync_records_published_total",
			Help: "Metadata records published to the overlay slot.",
		}),
		pipelineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klvsync_pipeline_state",
			Help: "Current pipeline state, 0=NULL 1=READY 2=PAUSED 3=PLAYING.",
		}),
	}
	m.registry.MustRegister(
		m.frames,
		m.lateFrames,
		m.frameInterval,
		m.records,
		m.pipelineState,
	)
	return m
}

// ObserveFrame records one sample from the timing probe.
func (m *Metrics) ObserveFrame(delta time.Duration, late bool) {
	m.frames.Inc()
	m.frameInterval.Observe(delta.Seconds())
	if late {
		m.lateFrames.Inc()
	}
}

// RecordPublished counts a metadata record reaching the overlay.
func (m *Metrics) RecordPublished() {
	m.records.Inc()
}

// SetState mirrors the pipeline state.
func (m *Metrics) SetState(state pipeline.State) {
	m.pipelineState.Set(float64(state))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
