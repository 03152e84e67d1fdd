package rtmp

import (
	"sync"
)

// Stream is the fan-out point for one stream key: the publisher's frames come
// in on one side, and every attached Subscription gets its own copy on the
// other. The Stream's mutex serializes attach/detach against broadcast, which
// gives attaching subscribers a clean boundary: everything in the GOP snapshot
// strictly precedes everything delivered live.
type Stream struct {
	key string

	mu          sync.Mutex
	publisherID string
	subs        map[string]*Subscription
	gop         *GopCache

	// Sequence headers and metadata outlive the GOP cache: every subscriber
	// needs them once, regardless of which GOP it joins at.
	avcSequenceHeader []byte
	aacSequenceHeader []byte
	metadata          map[string]interface{}

	queueSize int
	policy    OverflowPolicy
	stats     StatsCollector
}

func newStream(key string, gop *GopCache, queueSize int, policy OverflowPolicy, stats StatsCollector) *Stream {
	return &Stream{
		key:       key,
		subs:      make(map[string]*Subscription),
		gop:       gop,
		queueSize: queueSize,
		policy:    policy,
		stats:     stats,
	}
}

// Key returns the stream key this stream fans out.
func (s *Stream) Key() string {
	return s.key
}

func (s *Stream) setPublisher(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisherID != "" {
		return false
	}
	s.publisherID = id
	return true
}

func (s *Stream) publisher() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisherID
}

// clearPublisher ends the current publishing epoch: subscribers receive an
// end-of-stream marker through their queues, the GOP cache and sequence
// headers are discarded, and the key becomes immediately reusable.
func (s *Stream) clearPublisher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisherID = ""
	for _, sub := range s.subs {
		sub.enqueue(Frame{Type: mediaEndOfStream})
	}
	s.gop.Reset()
	s.avcSequenceHeader = nil
	s.aacSequenceHeader = nil
	s.metadata = nil
}

// attach adds a subscriber and primes it: sequence headers and metadata are
// delivered synchronously, the current GOP snapshot is queued, and only then
// does the delivery goroutine start. Frames broadcast after attach returns
// are queued behind the snapshot, so the subscriber sees a gapless,
// keyframe-first stream.
func (s *Stream) attach(sub Subscriber, onEvict func(*Subscription)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := newSubscription(sub, s.key, s.queueSize, s.policy, s.stats, onEvict)

	if s.metadata != nil {
		_ = sub.SendMetadata(s.metadata)
	}
	if s.avcSequenceHeader != nil {
		_ = sub.SendVideo(s.avcSequenceHeader, 0)
	}
	if s.aacSequenceHeader != nil {
		_ = sub.SendAudio(s.aacSequenceHeader, 0)
	}

	snapshot := s.gop.Snapshot()
	for _, frame := range snapshot {
		sn.enqueue(frame)
	}
	// With nothing to replay, hold back inter frames until the next keyframe
	// so the player never starts mid-GOP.
	sn.awaitingKeyframe = len(snapshot) == 0

	s.subs[sub.GetID()] = sn
	s.stats.SubscriberAdded(s.key)
	go sn.run()
	return sn
}

func (s *Stream) detach(sn *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.subs[sn.sub.GetID()]; ok && current == sn {
		delete(s.subs, sn.sub.GetID())
		s.stats.SubscriberRemoved(s.key)
	}
}

// subscriberCount returns the number of attached subscriptions.
func (s *Stream) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// broadcast pushes one frame from the publisher into the GOP cache and every
// Subscription queue. Sequence headers are captured instead of cached, since
// they are replayed explicitly on attach. The call never blocks on a slow
// subscriber.
func (s *Stream) broadcast(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case frame.Type == MediaVideo && frame.IsSequenceHeader:
		s.avcSequenceHeader = frame.Payload
	case frame.Type == MediaAudio && frame.IsSequenceHeader:
		s.aacSequenceHeader = frame.Payload
	case frame.Type == MediaMetadata:
		s.metadata = frame.Metadata
	default:
		s.gop.Push(frame)
	}

	for _, sub := range s.subs {
		if sub.awaitingKeyframe && frame.Type == MediaVideo && !frame.IsSequenceHeader {
			if !frame.IsKeyframe {
				continue
			}
			sub.awaitingKeyframe = false
		}
		sub.enqueue(frame)
	}
	s.stats.FrameBroadcast(s.key, frame.Type, frame.Size())
}
