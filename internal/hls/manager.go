package hls

import (
	"sync"

	"go.uber.org/zap"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
	"github.com/pksorensen/video-streaming-portal-sub001/config"
)

// Manager attaches a Segmenter to every stream as it starts publishing. It
// implements the broadcaster's StreamListener, so wiring it up is a single
// AddListener call at startup.
type Manager struct {
	logger      *zap.Logger
	cfg         config.HLS
	broadcaster *rtmp.Broadcaster

	mu         sync.Mutex
	segmenters map[string]*Segmenter
}

func NewManager(logger *zap.Logger, cfg config.HLS, broadcaster *rtmp.Broadcaster) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:      logger,
		cfg:         cfg,
		broadcaster: broadcaster,
		segmenters:  make(map[string]*Segmenter),
	}
}

// OnPublish starts segmenting the new stream. A previous run's segmenter for
// the same key is replaced; its files were already pruned down to the window.
func (m *Manager) OnPublish(streamKey string) {
	seg, err := NewSegmenter(m.logger, m.cfg.Dir, streamKey, m.cfg.SegmentDuration, m.cfg.PlaylistLength)
	if err != nil {
		m.logger.Error("failed to create segmenter", zap.String("streamKey", streamKey), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.segmenters[streamKey] = seg
	m.mu.Unlock()
	m.broadcaster.RegisterSubscriber(streamKey, seg)
	m.logger.Info("hls segmenting started", zap.String("streamKey", streamKey))
}

// OnUnpublish is a no-op: the segmenter finalizes itself when the
// end-of-stream marker reaches it through the fan-out.
func (m *Manager) OnUnpublish(streamKey string) {
}

// Segmenter returns the (possibly ended) segmenter for streamKey.
func (m *Manager) Segmenter(streamKey string) (*Segmenter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segmenters[streamKey]
	return seg, ok
}

var _ rtmp.StreamListener = (*Manager)(nil)
