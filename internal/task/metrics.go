package task

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the task engine's counters/gauges on a Prometheus
// registry (SPEC_FULL.md F.2: "additive, never a substitute for the
// global_status RPC's GlobalStats wire reply").
type Metrics struct {
	Registry  *prometheus.Registry
	created   prometheus.Counter
	finished  prometheus.Counter
	failed    prometheus.Counter
	bandwidth *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "norns", Name: "tasks_created_total", Help: "I/O tasks admitted.",
		}),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "norns", Name: "tasks_finished_total", Help: "I/O tasks that finished without error.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "norns", Name: "tasks_failed_total", Help: "I/O tasks that finished with an error.",
		}),
		bandwidth: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "norns", Name: "transfer_bandwidth_mibs", Help: "Observed per-task bandwidth samples, MiB/s.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"src_nsid", "dst_nsid"}),
	}
	reg.MustRegister(m.created, m.finished, m.failed, m.bandwidth)
	return m
}

func (m *Metrics) TaskCreated() { m.created.Inc() }

func (m *Metrics) TaskCompleted(status Status) {
	if status == StatusFinished {
		m.finished.Inc()
	} else {
		m.failed.Inc()
	}
}

func (m *Metrics) ObserveBandwidth(srcNsid, dstNsid string, mibPerSec float64) {
	m.bandwidth.WithLabelValues(srcNsid, dstNsid).Observe(mibPerSec)
}
