package quiver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports operation metrics to Prometheus.
type PrometheusCollector struct {
	opLatency *prometheus.HistogramVec
	ops       *prometheus.CounterVec
	rows      *prometheus.CounterVec
	files     *prometheus.CounterVec
}

// NewPrometheusCollector creates the collector and registers it with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusCollector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quiver",
			Name:      "operation_duration_seconds",
			Help:      "Latency of quiver operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiver",
			Name:      "operations_total",
			Help:      "Operations by outcome.",
		}, []string{"op", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiver",
			Name:      "rows_total",
			Help:      "Rows written or returned.",
		}, []string{"op"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiver",
			Name:      "files_total",
			Help:      "Data files written or scanned.",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{p.opLatency, p.ops, p.rows, p.files} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusCollector) record(op string, files int, rows int64, d time.Duration, err error) {
	p.opLatency.WithLabelValues(op).Observe(d.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.ops.WithLabelValues(op, status).Inc()
	if err == nil {
		p.rows.WithLabelValues(op).Add(float64(rows))
		p.files.WithLabelValues(op).Add(float64(files))
	}
}

// RecordWrite implements MetricsCollector.
func (p *PrometheusCollector) RecordWrite(files int, rows int64, d time.Duration, err error) {
	p.record("write", files, rows, d, err)
}

// RecordAppend implements MetricsCollector.
func (p *PrometheusCollector) RecordAppend(files int, rows int64, d time.Duration, err error) {
	p.record("append", files, rows, d, err)
}

// RecordQuery implements MetricsCollector.
func (p *PrometheusCollector) RecordQuery(files, rows int, d time.Duration, err error) {
	p.record("query", files, int64(rows), d, err)
}

// RecordSchema implements MetricsCollector.
func (p *PrometheusCollector) RecordSchema(files int, d time.Duration, err error) {
	p.record("schema", files, 0, d, err)
}
