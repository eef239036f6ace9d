package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/reframe/internal/ingest"
)

const ingestSubsystem = "ingest"

var (
	ingestStreamsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, ingestSubsystem, "active_connections"),
		"The number of connected ingest streams",
		nil, nil,
	)

	ingestBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, ingestSubsystem, "receive_bytes_total"),
		"total number of bytes received on the connection",
		[]string{"stream_key", "session_id", "remote"}, nil,
	)

	ingestReadsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, ingestSubsystem, "reads_total"),
		"total number of socket reads on the connection",
		[]string{"stream_key", "session_id", "remote"}, nil,
	)

	ingestUptimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, ingestSubsystem, "uptime_seconds"),
		"time since the connection was registered",
		[]string{"stream_key", "session_id", "remote"}, nil,
	)
)

// StreamLister is the part of ingest.Registry the exporter reads.
type StreamLister interface {
	List() []*ingest.Stream
}

// IngestExporter reports per-connection ingest counters at scrape time. It
// implements prometheus.Collector.
type IngestExporter struct {
	src StreamLister
}

// NewIngestExporter returns an exporter over src.
func NewIngestExporter(src StreamLister) *IngestExporter {
	return &IngestExporter{src: src}
}

// Describe implements prometheus.Collector.
func (e *IngestExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- ingestStreamsDesc
	ch <- ingestBytesDesc
	ch <- ingestReadsDesc
	ch <- ingestUptimeDesc
}

// Collect implements prometheus.Collector.
func (e *IngestExporter) Collect(ch chan<- prometheus.Metric) {
	streams := e.src.List()
	ch <- prometheus.MustNewConstMetric(ingestStreamsDesc, prometheus.GaugeValue, float64(len(streams)))
	for _, s := range streams {
		st := s.IngestStats()
		labels := []string{s.Key, s.SessionID, st.RemoteAddr}
		ch <- prometheus.MustNewConstMetric(ingestBytesDesc, prometheus.CounterValue, float64(st.BytesReceived), labels...)
		ch <- prometheus.MustNewConstMetric(ingestReadsDesc, prometheus.CounterValue, float64(st.ReadCount), labels...)
		ch <- prometheus.MustNewConstMetric(ingestUptimeDesc, prometheus.GaugeValue, float64(st.UptimeMs)/1000.0, labels...)
	}
}
