package monitoring

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slip.capture/internal/slip"
)

func TestMetrics_ObserveStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	first := slip.Stats{PacketsDecoded: 3, BytesDecoded: 30, EmptyEnds: 2}
	second := slip.Stats{PacketsDecoded: 5, BytesDecoded: 41, EmptyEnds: 2, InvalidEscapes: 1, DroppedBytes: 4}
	m.ObserveStats(slip.Stats{}, first)
	m.ObserveStats(first, second)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.Packets))
	assert.Equal(t, 41.0, testutil.ToFloat64(m.DecodedBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Anomalies.WithLabelValues(AnomalyEmptyEnd)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues(AnomalyInvalidEscape)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Anomalies.WithLabelValues(AnomalyDroppedByte)))
}

func TestMetrics_ObserveStatsAcrossDecoders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	// session 1 ends with one packet and one empty END
	m.ObserveStats(slip.Stats{}, slip.Stats{PacketsDecoded: 1, EmptyEnds: 1})
	// a reopened port starts a fresh decoder whose first snapshot matches
	// the old totals; it must still be counted in full
	m.ObserveStats(slip.Stats{}, slip.Stats{PacketsDecoded: 1, EmptyEnds: 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Packets))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Anomalies.WithLabelValues(AnomalyEmptyEnd)))
}

func TestMetrics_SubscriberDrops(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveSubscriberDrop()
	m.ObserveSubscriberDrop()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubscriberDrops))
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObservePacket(12)
	m.ObserveTransportError("timeout")
	m.ObserveSinkError("pcap")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "slip_packet_bytes_count 1")
	assert.Contains(t, body, `slip_transport_errors_total{kind="timeout"} 1`)
	assert.Contains(t, body, `slip_sink_errors_total{sink="pcap"} 1`)
}

func TestRenderLengthChart(t *testing.T) {
	var buf bytes.Buffer
	err := RenderLengthChart(&buf, "session=abc", map[int]int{60: 4, 12: 1})
	require.NoError(t, err)

	html := buf.String()
	assert.True(t, strings.Contains(html, "Decoded packet lengths"))
	assert.True(t, strings.Contains(html, "packets=5"))
}
