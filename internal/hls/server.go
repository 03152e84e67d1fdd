package hls

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
	"github.com/pksorensen/video-streaming-portal-sub001/config"
	"github.com/pksorensen/video-streaming-portal-sub001/internal/relay"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Server is the HTTP side of the media server: HLS playback, a small JSON API
// over streams and relay tasks, and the metrics endpoint.
type Server struct {
	logger      *zap.Logger
	cfg         config.HLS
	manager     *Manager
	broadcaster *rtmp.Broadcaster
	runner      *relay.Runner

	srv *http.Server
}

// NewServer wires the routes. metricsHandler and runner may be nil, in which
// case their endpoints are not mounted.
func NewServer(logger *zap.Logger, cfg config.HLS, manager *Manager, broadcaster *rtmp.Broadcaster, runner *relay.Runner, metricsHandler http.Handler, httpMiddleware func(http.Handler) http.Handler) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:      logger,
		cfg:         cfg,
		manager:     manager,
		broadcaster: broadcaster,
		runner:      runner,
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	if httpMiddleware != nil {
		r.Use(httpMiddleware)
	}

	if manager != nil {
		r.Get("/hls/{streamKey}/playlist.m3u8", s.getPlaylist)
		r.Get("/hls/{streamKey}/{segment}", s.getSegment)
	}
	r.Get("/api/streams", s.listStreams)
	if runner != nil {
		r.Get("/api/relays", s.listRelays)
		r.Post("/api/relays", s.addRelay)
		r.Delete("/api/relays/{id}", s.removeRelay)
	}
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getPlaylist(w http.ResponseWriter, r *http.Request) {
	streamKey := chi.URLParam(r, "streamKey")
	seg, ok := s.manager.Segmenter(streamKey)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(seg.Playlist()))
}

func (s *Server) getSegment(w http.ResponseWriter, r *http.Request) {
	streamKey := chi.URLParam(r, "streamKey")
	seg, ok := s.manager.Segmenter(streamKey)
	if !ok {
		http.NotFound(w, r)
		return
	}
	// Base strips any path the client smuggled into the segment name.
	name := filepath.Base(chi.URLParam(r, "segment"))
	w.Header().Set("Content-Type", "video/x-flv")
	http.ServeFile(w, r, filepath.Join(seg.Dir(), name))
}

type streamInfo struct {
	StreamKey   string `json:"stream_key"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	keys := s.broadcaster.ActiveStreams()
	out := make([]streamInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, streamInfo{
			StreamKey:   key,
			Subscribers: s.broadcaster.SubscriberCount(key),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type relayInfo struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
}

func (s *Server) listRelays(w http.ResponseWriter, r *http.Request) {
	tasks := s.runner.Tasks()
	out := make([]relayInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, relayInfo{
			ID:          t.ID,
			Source:      t.Source,
			Destination: t.Destination,
			Status:      t.Status.String(),
			Attempts:    t.Attempts,
			LastError:   t.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type addRelayRequest struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Args        []string `json:"args"`
}

func (s *Server) addRelay(w http.ResponseWriter, r *http.Request) {
	var req addRelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id, err := s.runner.Add(config.RelayTask{
		Source:      req.Source,
		Destination: req.Destination,
		Args:        req.Args,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) removeRelay(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Remove(chi.URLParam(r, "id")); err != nil {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusWriter captures the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrap := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrap.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
