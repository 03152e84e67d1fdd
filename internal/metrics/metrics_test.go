package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	if got := testutil.ToFloat64(m.connectionsOpen); got != 1 {
		t.Errorf("got %v open connections, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionsTotal); got != 2 {
		t.Errorf("got %v total connections, want 2", got)
	}

	m.PublishStarted("live/a")
	m.PublishStopped("live/a")
	if got := testutil.ToFloat64(m.publishersActive); got != 0 {
		t.Errorf("got %v active publishers, want 0", got)
	}
	if got := testutil.ToFloat64(m.publishesTotal); got != 1 {
		t.Errorf("got %v total publishes, want 1", got)
	}

	m.FrameBroadcast("live/a", rtmp.MediaVideo, 1000)
	m.FrameBroadcast("live/a", rtmp.MediaVideo, 500)
	m.FrameBroadcast("live/a", rtmp.MediaAudio, 200)

	if got := testutil.ToFloat64(m.framesTotal.WithLabelValues("live/a", "video")); got != 2 {
		t.Errorf("got %v video frames, want 2", got)
	}
	if got := testutil.ToFloat64(m.bytesTotal.WithLabelValues("live/a", "video")); got != 1500 {
		t.Errorf("got %v video bytes, want 1500", got)
	}
	if got := testutil.ToFloat64(m.framesTotal.WithLabelValues("live/a", "audio")); got != 1 {
		t.Errorf("got %v audio frames, want 1", got)
	}

	m.FrameDropped("live/a")
	m.SubscriberOverflowed("live/a")
	if got := testutil.ToFloat64(m.droppedTotal.WithLabelValues("live/a")); got != 1 {
		t.Errorf("got %v dropped frames, want 1", got)
	}
	if got := testutil.ToFloat64(m.overflowsTotal.WithLabelValues("live/a")); got != 1 {
		t.Errorf("got %v overflows, want 1", got)
	}
}

func TestMediaLabel(t *testing.T) {
	tests := []struct {
		mediaType rtmp.MediaType
		want      string
	}{
		{rtmp.MediaAudio, "audio"},
		{rtmp.MediaVideo, "video"},
		{rtmp.MediaMetadata, "metadata"},
	}
	for _, tt := range tests {
		if got := mediaLabel(tt.mediaType); got != tt.want {
			t.Errorf("mediaLabel(%v): got %q, want %q", tt.mediaType, got, tt.want)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ConnectionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %v, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rtmp_connections_open 1") {
		t.Errorf("scrape output is missing rtmp_connections_open:\n%s", rec.Body.String())
	}
}

func TestHTTPMiddleware_CountsRequests(t *testing.T) {
	m := New()
	mw := m.HTTPMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `http_requests_total{method="GET",status="404"} 3`) {
		t.Errorf("scrape output is missing the request counter:\n%s", rec.Body.String())
	}
}
