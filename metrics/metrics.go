// Package metrics exposes the pipeline's prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rsfuse"

// Skip reasons recorded by SkippedTicks.
const (
	SkipNoFrame      = "no_frame"
	SkipNotReady     = "not_ready"
	SkipInconsistent = "inconsistent"
	SkipBakeFailed   = "bake_failed"
)

// Metrics is one set of collectors on a private registry, so several drivers (or tests) can
// coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	PosesAcquired     prometheus.Counter
	TrackerTimeouts   prometheus.Counter
	TrackerConfidence prometheus.Gauge
	DepthFrames       prometheus.Counter
	SupersededFrames  prometheus.Counter
	LoopErrors        *prometheus.CounterVec
	Bakes             prometheus.Counter
	SkippedTicks      *prometheus.CounterVec
	PoseMatches       prometheus.Counter
}

// New registers a fresh set of collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PosesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "poses_acquired_total",
			Help:      "Pose samples pushed into the pose history.",
		}),
		TrackerTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "timeouts_total",
			Help:      "Tracker waits that ended without a frame.",
		}),
		TrackerConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "confidence",
			Help:      "Tracker confidence of the last pose sample, 0 to 3.",
		}),
		DepthFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "depth",
			Name:      "frames_total",
			Help:      "Color and point cloud pairs stored in the mailbox.",
		}),
		SupersededFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "depth",
			Name:      "superseded_frames_total",
			Help:      "Frame pairs replaced in the mailbox before any tick consumed them.",
		}),
		LoopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Acquisition iterations that failed or panicked.",
		}, []string{"loop"}),
		Bakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "converter",
			Name:      "bakes_total",
			Help:      "Successful attribute map bakes.",
		}),
		SkippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "skipped_ticks_total",
			Help:      "Ticks that did not update the attribute maps.",
		}, []string{"reason"}),
		PoseMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "pose_matches_total",
			Help:      "Ticks that applied a pose to the target transform.",
		}),
	}
	m.registry.MustRegister(
		m.PosesAcquired,
		m.TrackerTimeouts,
		m.TrackerConfidence,
		m.DepthFrames,
		m.SupersededFrames,
		m.LoopErrors,
		m.Bakes,
		m.SkippedTicks,
		m.PoseMatches,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
