package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/slip.capture/internal/slip"
)

// Anomaly labels for slip_anomalies_total.
const (
	AnomalyEmptyEnd      = "empty_end"
	AnomalyInvalidEscape = "invalid_escape"
	AnomalyDroppedByte   = "dropped_byte"
)

// Metrics holds the capture counters. The decoder itself only keeps plain
// counters; ObserveStats turns the step between two snapshots of the same
// decoder into monotonic metrics.
type Metrics struct {
	Packets         prometheus.Counter
	DecodedBytes    prometheus.Counter
	PacketBytes     prometheus.Histogram
	Anomalies       *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec
	SubscriberDrops prometheus.Counter
}

// NewMetrics registers the capture metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Packets: f.NewCounter(prometheus.CounterOpts{
			Namespace: "slip",
			Name:      "packets_total",
			Help:      "Decoded non-empty SLIP packets.",
		}),
		DecodedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "slip",
			Name:      "decoded_bytes_total",
			Help:      "Payload bytes across decoded packets.",
		}),
		PacketBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slip",
			Name:      "packet_bytes",
			Help:      "Decoded packet length in bytes.",
			Buckets:   []float64{1, 8, 16, 32, 64, 100, 128, 256, 512, 1024},
		}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slip",
			Name:      "anomalies_total",
			Help:      "Protocol anomalies resolved by the decoder.",
		}, []string{"kind"}),
		TransportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slip",
			Name:      "transport_errors_total",
			Help:      "Byte source errors by kind (timeout, closed, failure).",
		}, []string{"kind"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slip",
			Name:      "sink_errors_total",
			Help:      "Packet sink write failures.",
		}, []string{"sink"}),
		SubscriberDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "slip",
			Name:      "subscriber_drops_total",
			Help:      "Packets skipped for a lossy subscriber whose channel was full.",
		}),
	}
}

// ObserveStats adds the difference between prev and cur, two snapshots of
// one decoder. The caller owns prev, so a fresh decoder starts from a zero
// snapshot. A counter that went backwards is counted from zero.
func (m *Metrics) ObserveStats(prev, cur slip.Stats) {
	m.Packets.Add(delta(prev.PacketsDecoded, cur.PacketsDecoded))
	m.DecodedBytes.Add(delta(prev.BytesDecoded, cur.BytesDecoded))
	m.Anomalies.WithLabelValues(AnomalyEmptyEnd).Add(delta(prev.EmptyEnds, cur.EmptyEnds))
	m.Anomalies.WithLabelValues(AnomalyInvalidEscape).Add(delta(prev.InvalidEscapes, cur.InvalidEscapes))
	m.Anomalies.WithLabelValues(AnomalyDroppedByte).Add(delta(prev.DroppedBytes, cur.DroppedBytes))
}

// ObservePacket records the length of one delivered packet.
func (m *Metrics) ObservePacket(n int) {
	m.PacketBytes.Observe(float64(n))
}

// ObserveTransportError counts a byte source error of the given kind.
func (m *Metrics) ObserveTransportError(kind string) {
	m.TransportErrors.WithLabelValues(kind).Inc()
}

// ObserveSubscriberDrop counts a packet a lossy subscriber missed.
func (m *Metrics) ObserveSubscriberDrop() {
	m.SubscriberDrops.Inc()
}

// ObserveSinkError counts a failed write to the named sink.
func (m *Metrics) ObserveSinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}

func delta(prev, cur uint64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
