// Package metrics implements the streaming core's StatsCollector on top of
// Prometheus and exposes the scrape endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
)

// Metrics holds the server's Prometheus instruments. It satisfies
// rtmp.StatsCollector, so it plugs straight into the registry and server.
type Metrics struct {
	registry *prometheus.Registry

	connectionsOpen  prometheus.Gauge
	connectionsTotal prometheus.Counter
	publishersActive prometheus.Gauge
	publishesTotal   prometheus.Counter
	subscribersOpen  prometheus.Gauge
	framesTotal      *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	droppedTotal     *prometheus.CounterVec
	overflowsTotal   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtmp_connections_open",
			Help: "Connections currently served.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmp_connections_total",
			Help: "Connections accepted since start.",
		}),
		publishersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtmp_publishers_active",
			Help: "Stream keys with an active publisher.",
		}),
		publishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmp_publishes_total",
			Help: "Publish sessions started since start.",
		}),
		subscribersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtmp_subscribers_open",
			Help: "Subscribers currently attached across all streams.",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmp_frames_broadcast_total",
			Help: "Frames fanned out to subscribers.",
		}, []string{"stream_key", "media"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmp_bytes_broadcast_total",
			Help: "Payload bytes fanned out to subscribers.",
		}, []string{"stream_key", "media"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmp_frames_dropped_total",
			Help: "Frames shed by full subscriber queues.",
		}, []string{"stream_key"}),
		overflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmp_subscriber_overflows_total",
			Help: "Subscribers disconnected for falling too far behind.",
		}, []string{"stream_key"}),
	}

	registry.MustRegister(
		m.connectionsOpen,
		m.connectionsTotal,
		m.publishersActive,
		m.publishesTotal,
		m.subscribersOpen,
		m.framesTotal,
		m.bytesTotal,
		m.droppedTotal,
		m.overflowsTotal,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsOpen.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connectionsOpen.Dec()
}

func (m *Metrics) PublishStarted(streamKey string) {
	m.publishersActive.Inc()
	m.publishesTotal.Inc()
}

func (m *Metrics) PublishStopped(streamKey string) {
	m.publishersActive.Dec()
}

func (m *Metrics) SubscriberAdded(streamKey string) {
	m.subscribersOpen.Inc()
}

func (m *Metrics) SubscriberRemoved(streamKey string) {
	m.subscribersOpen.Dec()
}

func (m *Metrics) FrameBroadcast(streamKey string, mediaType rtmp.MediaType, bytes int) {
	media := mediaLabel(mediaType)
	m.framesTotal.WithLabelValues(streamKey, media).Inc()
	m.bytesTotal.WithLabelValues(streamKey, media).Add(float64(bytes))
}

func (m *Metrics) FrameDropped(streamKey string) {
	m.droppedTotal.WithLabelValues(streamKey).Inc()
}

func (m *Metrics) SubscriberOverflowed(streamKey string) {
	m.overflowsTotal.WithLabelValues(streamKey).Inc()
}

func mediaLabel(t rtmp.MediaType) string {
	switch t {
	case rtmp.MediaAudio:
		return "audio"
	case rtmp.MediaVideo:
		return "video"
	default:
		return "metadata"
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ rtmp.StatsCollector = (*Metrics)(nil)
