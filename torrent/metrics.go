package torrent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	torrents       prometheus.Gauge
	pending        prometheus.Gauge
	events         *prometheus.CounterVec
	dispatchErrors prometheus.Counter
	downloadRate   prometheus.Gauge
	uploadRate     prometheus.Gauge
}

// newMetrics registers the core collectors on reg. A nil reg keeps them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		torrents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "torsync",
			Name:      "torrents",
			Help:      "Number of torrents in the registry.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "torsync",
			Name:      "pending_operations",
			Help:      "Persistence requests waiting for an answer from the engine.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "torsync",
			Name:      "engine_events_total",
			Help:      "Engine events dispatched, by kind.",
		}, []string{"kind"}),
		dispatchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "torsync",
			Name:      "dispatch_errors_total",
			Help:      "Engine events whose handling failed.",
		}),
		downloadRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "torsync",
			Name:      "download_rate_bytes",
			Help:      "Session download rate in bytes per second.",
		}),
		uploadRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "torsync",
			Name:      "upload_rate_bytes",
			Help:      "Session upload rate in bytes per second.",
		}),
	}
}
