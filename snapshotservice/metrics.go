package snapshotservice

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ops       *prometheus.CounterVec
	conflicts prometheus.Counter
	duration  *prometheus.HistogramVec
	deltas    prometheus.Histogram
	versions  prometheus.Gauge
	trees     prometheus.Gauge
	dataKeys  prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapshot",
			Subsystem: "forest",
			Name:      "ops_total",
			Help:      "Forest operations by result.",
		}, []string{"op", "result"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snapshot",
			Subsystem: "forest",
			Name:      "conflicts_total",
			Help:      "Transactions retried because of a storage conflict.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "snapshot",
			Subsystem: "forest",
			Name:      "op_duration_seconds",
			Help:      "Forest operation duration including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		deltas: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "snapshot",
			Subsystem: "forest",
			Name:      "written_deltas",
			Help:      "Deltas written by create and modify operations.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		versions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapshot",
			Subsystem: "forest",
			Name:      "versions",
			Help:      "Versions in the forest.",
		}),
		trees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapshot",
			Subsystem: "forest",
			Name:      "trees",
			Help:      "Trees in the forest.",
		}),
		dataKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapshot",
			Subsystem: "data",
			Name:      "keys",
			Help:      "Keys in the data table.",
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	return errors.Join(
		reg.Register(m.ops),
		reg.Register(m.conflicts),
		reg.Register(m.duration),
		reg.Register(m.deltas),
		reg.Register(m.versions),
		reg.Register(m.trees),
		reg.Register(m.dataKeys),
	)
}

func (m *metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
