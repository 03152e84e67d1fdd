package rtmp

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pksorensen/video-streaming-portal-sub001/audio"
	"github.com/pksorensen/video-streaming-portal-sub001/video"
)

// StreamListener is notified when publishers come and go. Implementations
// must return quickly; callbacks run on the publishing session's goroutine.
type StreamListener interface {
	OnPublish(streamKey string)
	OnUnpublish(streamKey string)
}

// Broadcaster is the façade sessions (and internal consumers such as relays)
// talk to. It classifies raw media payloads into Frames, forwards them to the
// registry and fans publish lifecycle events out to listeners.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger

	mu        sync.Mutex
	listeners []StreamListener
}

func NewBroadcaster(registry *Registry, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
	}
}

// AddListener registers a lifecycle listener. Listeners added after a stream
// started publishing do not receive a retroactive OnPublish.
func (b *Broadcaster) AddListener(l StreamListener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

func (b *Broadcaster) snapshotListeners() []StreamListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StreamListener, len(b.listeners))
	copy(out, b.listeners)
	return out
}

// RegisterPublisher claims streamKey for publisherID, returning
// ErrAlreadyPublishing when the key is taken.
func (b *Broadcaster) RegisterPublisher(streamKey string, publisherID string) error {
	if err := b.registry.RegisterPublisher(streamKey, publisherID); err != nil {
		return err
	}
	b.logger.Info("publish started",
		zap.String("streamKey", streamKey),
		zap.String("publisherID", publisherID))
	for _, l := range b.snapshotListeners() {
		l.OnPublish(streamKey)
	}
	return nil
}

// DestroyPublisher releases streamKey if publisherID holds it.
func (b *Broadcaster) DestroyPublisher(streamKey string, publisherID string) {
	if !b.registry.DestroyPublisher(streamKey, publisherID) {
		return
	}
	b.logger.Info("publish stopped",
		zap.String("streamKey", streamKey),
		zap.String("publisherID", publisherID))
	for _, l := range b.snapshotListeners() {
		l.OnUnpublish(streamKey)
	}
}

// RegisterSubscriber attaches sub to streamKey and starts delivery.
func (b *Broadcaster) RegisterSubscriber(streamKey string, sub Subscriber) *Subscription {
	b.logger.Debug("subscriber attached",
		zap.String("streamKey", streamKey),
		zap.String("subscriberID", sub.GetID()))
	return b.registry.RegisterSubscriber(streamKey, sub)
}

// StreamExists reports whether streamKey has an active publisher.
func (b *Broadcaster) StreamExists(streamKey string) bool {
	return b.registry.StreamExists(streamKey)
}

// ActiveStreams lists the keys currently being published.
func (b *Broadcaster) ActiveStreams() []string {
	return b.registry.ActiveKeys()
}

// SubscriberCount returns the number of subscribers on streamKey.
func (b *Broadcaster) SubscriberCount(streamKey string) int {
	return b.registry.SubscriberCount(streamKey)
}

// BroadcastAudio fans an audio message out to streamKey's subscribers. The
// payload includes the one-byte FLV audio tag header.
func (b *Broadcaster) BroadcastAudio(streamKey string, payload []byte, timestamp uint32) {
	b.registry.Broadcast(streamKey, Frame{
		Type:             MediaAudio,
		Timestamp:        timestamp,
		Payload:          payload,
		IsSequenceHeader: audio.IsSequenceHeader(payload),
	})
}

// BroadcastVideo fans a video message out to streamKey's subscribers. The
// payload includes the one-byte FLV video tag header.
func (b *Broadcaster) BroadcastVideo(streamKey string, payload []byte, timestamp uint32) {
	b.registry.Broadcast(streamKey, Frame{
		Type:             MediaVideo,
		Timestamp:        timestamp,
		Payload:          payload,
		IsKeyframe:       video.IsKeyFrame(payload),
		IsSequenceHeader: video.IsSequenceHeader(payload),
	})
}

// BroadcastMetadata fans the publisher's onMetadata object out to subscribers
// and retains it for late joiners.
func (b *Broadcaster) BroadcastMetadata(streamKey string, metadata map[string]interface{}) {
	b.registry.Broadcast(streamKey, Frame{
		Type:     MediaMetadata,
		Metadata: metadata,
	})
}
