// Package metrics exposes processing counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/reframe/internal/diag"
)

// Namespace prefixes every metric name.
const Namespace = "reframe"

// Metrics holds the counters of one process. Each instance owns its registry
// so tests can create as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	UnitsIn   *prometheus.CounterVec
	UnitsOut  *prometheus.CounterVec
	BytesIn   *prometheus.CounterVec
	BytesOut  *prometheus.CounterVec
	Keyframes *prometheus.CounterVec
	Anomalies *prometheus.CounterVec
	Streams   prometheus.Gauge
}

// New creates Metrics registered on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		UnitsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "demux",
			Name:      "units_total",
			Help:      "Access units read from the input.",
		}, []string{"codec"}),
		BytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "demux",
			Name:      "bytes_total",
			Help:      "Access unit payload bytes read from the input.",
		}, []string{"codec"}),
		Keyframes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "demux",
			Name:      "keyframes_total",
			Help:      "Intra coded access units read from the input.",
		}, []string{"codec"}),
		UnitsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "output",
			Name:      "units_total",
			Help:      "Access units written to a sink.",
		}, []string{"codec"}),
		BytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "output",
			Name:      "bytes_total",
			Help:      "Payload bytes written to a sink.",
		}, []string{"codec"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "anomalies_total",
			Help:      "Non-fatal stream anomalies by kind.",
		}, []string{"kind"}),
		Streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_streams",
			Help:      "Streams currently being processed.",
		}),
	}
	m.reg.MustRegister(
		m.UnitsIn, m.BytesIn, m.Keyframes,
		m.UnitsOut, m.BytesOut,
		m.Anomalies, m.Streams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// MustRegister adds further collectors, such as an ingest exporter.
func (m *Metrics) MustRegister(cs ...prometheus.Collector) {
	m.reg.MustRegister(cs...)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// DemuxRecorder returns a recorder for units read for codec. It satisfies
// demux.StatsRecorder.
func (m *Metrics) DemuxRecorder(codec string) *UnitRecorder {
	return &UnitRecorder{
		units:     m.UnitsIn.WithLabelValues(codec),
		bytes:     m.BytesIn.WithLabelValues(codec),
		keyframes: m.Keyframes.WithLabelValues(codec),
	}
}

// OutputRecorder returns a recorder for units written for codec.
func (m *Metrics) OutputRecorder(codec string) *UnitRecorder {
	return &UnitRecorder{
		units: m.UnitsOut.WithLabelValues(codec),
		bytes: m.BytesOut.WithLabelValues(codec),
	}
}

// UnitRecorder counts units and bytes on pre-bound counters.
type UnitRecorder struct {
	units     prometheus.Counter
	bytes     prometheus.Counter
	keyframes prometheus.Counter
}

// RecordUnit counts one unit of n bytes.
func (r *UnitRecorder) RecordUnit(n int, keyframe bool) {
	r.units.Inc()
	r.bytes.Add(float64(n))
	if keyframe && r.keyframes != nil {
		r.keyframes.Inc()
	}
}

// Reporter counts anomalies by kind and forwards everything to next.
func (m *Metrics) Reporter(next diag.Reporter) diag.Reporter {
	if next == nil {
		next = diag.Discard
	}
	return &reporter{anomalies: m.Anomalies, next: next}
}

type reporter struct {
	anomalies *prometheus.CounterVec
	next      diag.Reporter
}

func (r *reporter) Anomaly(kind diag.Kind, msg string, args ...any) {
	r.anomalies.WithLabelValues(kind.String()).Inc()
	r.next.Anomaly(kind, msg, args...)
}

func (r *reporter) Debug(msg string, args ...any) {
	r.next.Debug(msg, args...)
}
