package rtmp

import (
	"sync"
)

// Subscriber is anything that consumes a published stream: a playing session,
// a relay pipeline or an HLS segmenter. Send methods are called from a single
// delivery goroutine per subscriber, never concurrently.
type Subscriber interface {
	GetID() string
	SendAudio(payload []byte, timestamp uint32) error
	SendVideo(payload []byte, timestamp uint32) error
	SendMetadata(metadata map[string]interface{}) error
	SendEndOfStream()
	Close() error
}

// OverflowPolicy selects what happens when a subscriber's queue is full while
// the publisher keeps producing.
type OverflowPolicy int

const (
	// OverflowDropOldest discards the oldest queued frame to make room. Slow
	// players skip frames but stay connected.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowDisconnect drops the subscriber entirely. Useful for relay
	// consumers where a gap in the stream is worse than a reconnect.
	OverflowDisconnect
)

// PolicyFromConfig maps the backpressure.drop_when_full setting to a policy.
func PolicyFromConfig(dropWhenFull bool) OverflowPolicy {
	if dropWhenFull {
		return OverflowDropOldest
	}
	return OverflowDisconnect
}

// Subscription ties a Subscriber to its bounded delivery queue. The publisher
// enqueues frames without ever blocking; a dedicated goroutine drains the
// queue into the Subscriber at whatever pace it can sustain.
type Subscription struct {
	sub       Subscriber
	streamKey string
	policy    OverflowPolicy
	stats     StatsCollector

	queue chan Frame
	done  chan struct{}
	once  sync.Once

	// onEvict detaches the Subscription from its stream. Called at most once,
	// from the delivery goroutine or from an overflow disconnect.
	onEvict func(*Subscription)

	// awaitingKeyframe suppresses inter frames until the first keyframe when
	// the subscriber attached with nothing to replay. Guarded by the owning
	// Stream's mutex.
	awaitingKeyframe bool
}

func newSubscription(sub Subscriber, streamKey string, queueSize int, policy OverflowPolicy, stats StatsCollector, onEvict func(*Subscription)) *Subscription {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Subscription{
		sub:       sub,
		streamKey: streamKey,
		policy:    policy,
		stats:     stats,
		queue:     make(chan Frame, queueSize),
		done:      make(chan struct{}),
		onEvict:   onEvict,
	}
}

// enqueue hands a frame to the Subscription. It never blocks: on a full queue
// it applies the overflow policy and returns.
func (s *Subscription) enqueue(frame Frame) {
	select {
	case s.queue <- frame:
		return
	default:
	}

	switch s.policy {
	case OverflowDropOldest:
		// Make room by discarding the oldest queued frame. The delivery
		// goroutine may have drained one in the meantime, in which case both
		// receive and the retried send succeed.
		select {
		case <-s.queue:
			s.stats.FrameDropped(s.streamKey)
		default:
		}
		select {
		case s.queue <- frame:
		default:
			s.stats.FrameDropped(s.streamKey)
		}
	case OverflowDisconnect:
		s.stats.SubscriberOverflowed(s.streamKey)
		s.evict()
		_ = s.sub.Close()
	}
}

// run delivers queued frames until the stream ends, the subscriber errors or
// the Subscription is evicted. It owns all calls into the Subscriber.
func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.queue:
			if err := s.deliver(frame); err != nil {
				s.evict()
				_ = s.sub.Close()
				return
			}
			if frame.Type == mediaEndOfStream {
				s.evict()
				return
			}
		}
	}
}

func (s *Subscription) deliver(frame Frame) error {
	switch frame.Type {
	case MediaAudio:
		return s.sub.SendAudio(frame.Payload, frame.Timestamp)
	case MediaVideo:
		return s.sub.SendVideo(frame.Payload, frame.Timestamp)
	case MediaMetadata:
		return s.sub.SendMetadata(frame.Metadata)
	case mediaEndOfStream:
		s.sub.SendEndOfStream()
		return nil
	default:
		return nil
	}
}

// Cancel detaches the subscriber from the stream and stops delivery. Frames
// already queued are discarded. Safe to call from any goroutine, any number
// of times.
func (s *Subscription) Cancel() {
	s.evict()
}

// evict removes the Subscription from its stream and stops the delivery
// goroutine. Safe to call multiple times and from any goroutine.
func (s *Subscription) evict() {
	s.once.Do(func() {
		close(s.done)
		if s.onEvict != nil {
			s.onEvict(s)
		}
	})
}
