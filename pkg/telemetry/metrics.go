package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	RecallTriggered    prometheus.Counter
	RecallImages       prometheus.Counter
	MediaFetchesTotal  *prometheus.CounterVec
	DegradedDeliveries *prometheus.CounterVec
	ModelLatency       *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	InboundQueueDepth  prometheus.Gauge
}{
	TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mmbridge",
		Name:      "turns_total",
		Help:      "Total conversation turns by channel and status.",
	}, []string{"channel", "status"}),

	TurnDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mmbridge",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"channel"}),

	RecallTriggered: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mmbridge",
		Name:      "recall_triggered_total",
		Help:      "Turns where the reference-intent heuristic re-attached prior images.",
	}),

	RecallImages: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mmbridge",
		Name:      "recall_images_total",
		Help:      "Images re-attached to model context by recall.",
	}),

	MediaFetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mmbridge",
		Name:      "media_fetches_total",
		Help:      "Media downloads by channel and status.",
	}, []string{"channel", "status"}),

	DegradedDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mmbridge",
		Name:      "degraded_deliveries_total",
		Help:      "Outbound deliveries that fell back to a degraded form, by channel and reason.",
	}, []string{"channel", "reason"}),

	ModelLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mmbridge",
		Name:      "model_latency_seconds",
		Help:      "Model invocation latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"}),

	ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mmbridge",
		Name:      "errors_total",
		Help:      "Total errors by component.",
	}, []string{"component"}),

	InboundQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mmbridge",
		Name:      "inbound_queue_depth",
		Help:      "Inbound messages waiting on per-conversation serialization.",
	}),
}
