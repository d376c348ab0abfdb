// Package metrics holds the Prometheus collectors of the document server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "doctree"

var (
	// Operations counts operations submitted to the authority.
	// Labels: result (applied, dropped, failed)
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authority",
		Name:      "operations_total",
		Help:      "Operations submitted to a document, by outcome",
	}, []string{"result"})

	// Rejections counts apply requests refused for their version.
	// Labels: reason (stale, ahead)
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authority",
		Name:      "rejections_total",
		Help:      "Apply requests rejected because of their base version",
	}, []string{"reason"})

	ApplyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "authority",
		Name:      "apply_seconds",
		Help:      "Time spent rebasing and applying one transaction",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	Documents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "authority",
		Name:      "documents",
		Help:      "Documents currently registered",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections",
		Help:      "Open websocket connections",
	})

	// Messages counts websocket messages.
	// Labels: direction (in, out), type (envelope type)
	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "messages_total",
		Help:      "Websocket messages by direction and type",
	}, []string{"direction", "type"})
)

// ObserveApply records the outcome of one authority apply.
func ObserveApply(start time.Time, applied, dropped, failed int) {
	ApplyLatency.Observe(time.Since(start).Seconds())
	Operations.WithLabelValues("applied").Add(float64(applied))
	Operations.WithLabelValues("dropped").Add(float64(dropped))
	Operations.WithLabelValues("failed").Add(float64(failed))
}
