package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus counters for the event feed.
type Metrics struct {
	emitted *prometheus.CounterVec
	bytes   *prometheus.CounterVec
}

// NewMetrics creates counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockrtc_events_total",
			Help: "Session events emitted, by event type.",
		}, []string{"type"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockrtc_traffic_bytes_total",
			Help: "Bytes observed on data channels and tracks, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.emitted, m.bytes)
	return m
}

func (m *Metrics) observe(e Event) {
	m.emitted.WithLabelValues(string(e.Type)).Inc()
	if e.Bytes > 0 {
		switch e.Type {
		case DataChannelMessageSent:
			m.bytes.WithLabelValues("sent").Add(float64(e.Bytes))
		case DataChannelMessageReceived, MediaTrackStats:
			m.bytes.WithLabelValues("received").Add(float64(e.Bytes))
		}
	}
}
