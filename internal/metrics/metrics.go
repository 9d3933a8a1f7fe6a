// Package metrics provides Prometheus metrics for the oscmap engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all oscmap metrics.
var Registry = prometheus.NewRegistry()

// EngineMetrics holds all Prometheus metrics of one engine.
type EngineMetrics struct {
	// Listener
	DatagramsReceived prometheus.Counter
	DecodeErrors      *prometheus.CounterVec // labels: reason

	// Inbox queue, fed by the Collector
	QueueDepth   prometheus.Gauge
	QueueDropped prometheus.Counter

	// Dispatch cycle
	Cycles        prometheus.Counter
	CycleDuration prometheus.Histogram
	Messages      prometheus.Counter
	Unmatched     prometheus.Counter
	Applications  *prometheus.CounterVec // labels: outcome
	Refreshes     prometheus.Counter
	Keyframes     *prometheus.CounterVec // labels: outcome

	// State
	Running  prometheus.Gauge
	AutoKey  prometheus.Gauge
	Mappings prometheus.Gauge
	Info     *prometheus.GaugeVec // labels: version
}

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics registers all engine metrics on Registry.
func InitMetrics(version string) *EngineMetrics {
	m := &EngineMetrics{
		DatagramsReceived: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "oscmap_datagrams_received_total",
			Help: "Total UDP datagrams read by the listener",
		}),
		DecodeErrors: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "oscmap_decode_errors_total",
			Help: "Datagrams dropped because they did not decode to an OSC message",
		}, []string{"reason"}),

		QueueDepth: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "oscmap_queue_depth",
			Help: "Messages waiting in the inbox queue",
		}),
		QueueDropped: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "oscmap_queue_dropped_total",
			Help: "Messages dropped because the inbox queue was full",
		}),

		Cycles: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "oscmap_cycles_total",
			Help: "Dispatch cycles that drained at least one message",
		}),
		CycleDuration: promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "oscmap_cycle_duration_seconds",
			Help:    "Time spent processing one non-empty dispatch cycle",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		Messages: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "oscmap_messages_processed_total",
			Help: "Messages drained and resolved by the dispatcher",
		}),
		Unmatched: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "oscmap_messages_unmatched_total",
			Help: "Messages whose address matched no mapping",
		}),
		Applications: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "oscmap_applications_total",
			Help: "Mapping applications by outcome (applied, skipped, failed)",
		}, []string{"outcome"}),
		Refreshes: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "oscmap_refreshes_total",
			Help: "Downstream refreshes triggered after a batch",
		}),
		Keyframes: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "oscmap_keyframes_total",
			Help: "Keyframe insertions by outcome (recorded, failed)",
		}, []string{"outcome"}),

		Running: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "oscmap_running",
			Help: "Whether the listener is running (1) or not (0)",
		}),
		AutoKey: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "oscmap_autokey_enabled",
			Help: "Whether auto-keying is enabled (1) or not (0)",
		}),
		Mappings: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "oscmap_mappings",
			Help: "Number of configured mappings",
		}),
		Info: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "oscmap_info",
			Help: "Build information (value is always 1)",
		}, []string{"version"}),
	}

	m.Info.WithLabelValues(version).Set(1)

	return m
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
