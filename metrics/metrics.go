// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	ActiveCalls     prometheus.Gauge
	CallsTotal      prometheus.Counter
	CallDuration    prometheus.Histogram
	TurnsTotal      prometheus.Counter
	TurnLatency     prometheus.Histogram
	AudioFramesIn   prometheus.Counter
	AudioFramesOut  prometheus.Counter
	TranscodeTime   prometheus.Histogram
	CollaboratorErr *prometheus.CounterVec
	BookingsTotal   *prometheus.CounterVec
}

// New registers the bridge collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests pass their own
// registry so parallel tests do not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_calls",
			Help: "Number of calls currently bridged.",
		}),
		CallsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_calls_total",
			Help: "Total calls accepted.",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_call_duration_seconds",
			Help:    "Call duration from stream start to teardown.",
			Buckets: []float64{15, 30, 60, 120, 300, 600, 1200},
		}),
		TurnsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_dialogue_turns_total",
			Help: "Total dialogue turns processed.",
		}),
		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_turn_latency_seconds",
			Help:    "Time from finalized transcript to first outbound audio frame.",
			Buckets: prometheus.DefBuckets,
		}),
		AudioFramesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_audio_frames_in_total",
			Help: "Inbound media frames received from Twilio.",
		}),
		AudioFramesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_audio_frames_out_total",
			Help: "Outbound media frames sent to Twilio.",
		}),
		TranscodeTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_transcode_seconds",
			Help:    "Per-frame audio conversion time.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		CollaboratorErr: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_collaborator_errors_total",
			Help: "Failures talking to external collaborators.",
		}, []string{"collaborator"}),
		BookingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_bookings_total",
			Help: "Booking commit outcomes.",
		}, []string{"outcome"}),
	}
}
