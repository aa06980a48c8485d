// Package metrics defines the Prometheus instruments for every pipeline stage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the livecap instruments.
type Metrics struct {
	// capture and segmentation
	InputLevel       prometheus.Gauge
	Utterances       prometheus.Counter
	UtteranceSeconds prometheus.Histogram
	DeviceErrors     prometheus.Counter

	// dispatch
	QueueDepth       prometheus.Gauge
	QueueDrops       prometheus.Counter
	ASRLatency       *prometheus.HistogramVec
	TranslateLatency *prometheus.HistogramVec

	// ordering and fan-out
	Captions      *prometheus.CounterVec
	OrderingGaps  prometheus.Counter
	LateDrops     prometheus.Counter
	Subscribers   prometheus.Gauge
	DeliveryFails prometheus.Counter

	// session and hook
	SessionStarts prometheus.Counter
	HookRuns      *prometheus.CounterVec

	// control surface
	HTTPRequests *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecap_input_rms",
			Help: "RMS energy of the most recent mono audio frame",
		}),
		Utterances: f.NewCounter(prometheus.CounterOpts{
			Name: "livecap_utterances_total",
			Help: "Utterances emitted by the segmenter",
		}),
		UtteranceSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecap_utterance_duration_seconds",
			Help:    "Audio length of emitted utterances",
			Buckets: prometheus.LinearBuckets(0.25, 0.25, 12), // 0.25s to 3s
		}),
		DeviceErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "livecap_device_errors_total",
			Help: "Audio input failures that stopped a session",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecap_dispatch_queue_depth",
			Help: "Utterances waiting for a transcription worker",
		}),
		QueueDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "livecap_dispatch_queue_drops_total",
			Help: "Utterances dropped because the transcription queue was full",
		}),
		ASRLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livecap_asr_duration_seconds",
			Help:    "Speech recognition round trip time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"outcome"}),
		TranslateLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livecap_translate_duration_seconds",
			Help:    "Translation round trip time, labelled by which model answered",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		Captions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecap_captions_total",
			Help: "Caption events released to subscribers",
		}, []string{"type"}),
		OrderingGaps: f.NewCounter(prometheus.CounterOpts{
			Name: "livecap_ordering_gaps_total",
			Help: "Sequence numbers skipped after the reorder timeout",
		}),
		LateDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "livecap_late_events_total",
			Help: "Caption events dropped because their sequence number was already skipped",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecap_subscribers",
			Help: "Connected caption subscribers",
		}),
		DeliveryFails: f.NewCounter(prometheus.CounterOpts{
			Name: "livecap_delivery_failures_total",
			Help: "Subscribers removed after a failed delivery",
		}),
		SessionStarts: f.NewCounter(prometheus.CounterOpts{
			Name: "livecap_session_starts_total",
			Help: "Captioning sessions started",
		}),
		HookRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecap_hook_runs_total",
			Help: "Caption hook invocations by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecap_http_requests_total",
			Help: "Control surface requests",
		}, []string{"method", "path", "code"}),
	}
}

// NewNop returns instruments registered on a throwaway registry, for callers
// that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
