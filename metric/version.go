package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anyproto/any-snapshot/app"
)

func newVersionCollector() prometheus.Collector {
	return &versionCollector{prometheus.MustNewConstMetric(prometheus.NewDesc(
		"snapshot_build",
		"Build information about the snapshot service.",
		nil, prometheus.Labels{
			"version": app.Version(),
		},
	), prometheus.GaugeValue, 1)}
}

type versionCollector struct {
	ver prometheus.Metric
}

func (v *versionCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- v.ver.Desc()
}

func (v *versionCollector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- v.ver
}
