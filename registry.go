package rtmp

import (
	"sort"
	"sync"
)

// Registry owns the stream-key namespace: it maps keys to live Streams,
// enforces single-publisher-per-key and lazily creates stream state the first
// time a key is published or subscribed to.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Stream

	gopMaxFrames int
	gopMaxBytes  int
	queueSize    int
	policy       OverflowPolicy
	stats        StatsCollector
}

// RegistryOptions configures the per-stream resources a Registry hands out.
type RegistryOptions struct {
	GopMaxFrames int
	GopMaxBytes  int
	// QueueSize is the per-subscriber frame queue depth.
	QueueSize int
	Policy    OverflowPolicy
	Stats     StatsCollector
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Stats == nil {
		opts.Stats = NopCollector{}
	}
	return &Registry{
		streams:      make(map[string]*Stream),
		gopMaxFrames: opts.GopMaxFrames,
		gopMaxBytes:  opts.GopMaxBytes,
		queueSize:    opts.QueueSize,
		policy:       opts.Policy,
		stats:        opts.Stats,
	}
}

// getOrCreate returns the stream for key, creating it on first use. Callers
// hold no locks; the registry lock covers only the map.
func (r *Registry) getOrCreate(key string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[key]; ok {
		return s
	}
	s := newStream(key, NewGopCache(r.gopMaxFrames, r.gopMaxBytes), r.queueSize, r.policy, r.stats)
	r.streams[key] = s
	return s
}

// RegisterPublisher claims key for the session identified by publisherID.
// Exactly one publisher may hold a key at a time.
func (r *Registry) RegisterPublisher(key string, publisherID string) error {
	s := r.getOrCreate(key)
	if !s.setPublisher(publisherID) {
		return ErrAlreadyPublishing
	}
	r.stats.PublishStarted(key)
	return nil
}

// DestroyPublisher releases key if it is held by publisherID and reports
// whether it was. All subscribers receive an end-of-stream marker, cached
// state is discarded, and the key is immediately available to a new publisher.
func (r *Registry) DestroyPublisher(key string, publisherID string) bool {
	r.mu.Lock()
	s, ok := r.streams[key]
	r.mu.Unlock()
	if !ok || s.publisher() != publisherID {
		return false
	}
	s.clearPublisher()
	r.stats.PublishStopped(key)
	r.reap(key)
	return true
}

// RegisterSubscriber attaches sub to key. Subscribing to a key nobody is
// publishing yet is allowed; delivery starts when a publisher arrives.
func (r *Registry) RegisterSubscriber(key string, sub Subscriber) *Subscription {
	s := r.getOrCreate(key)
	return s.attach(sub, func(sn *Subscription) {
		// Eviction can fire from inside broadcast, which already holds the
		// stream lock; detach on a separate goroutine to avoid re-entry.
		go func() {
			s.detach(sn)
			r.reap(key)
		}()
	})
}

// StreamExists reports whether key currently has an active publisher.
func (r *Registry) StreamExists(key string) bool {
	r.mu.Lock()
	s, ok := r.streams[key]
	r.mu.Unlock()
	return ok && s.publisher() != ""
}

// Broadcast fans one frame out to every subscriber of key. Frames for keys
// without stream state are dropped.
func (r *Registry) Broadcast(key string, frame Frame) {
	r.mu.Lock()
	s, ok := r.streams[key]
	r.mu.Unlock()
	if ok {
		s.broadcast(frame)
	}
}

// SubscriberCount returns the number of subscribers attached to key.
func (r *Registry) SubscriberCount(key string) int {
	r.mu.Lock()
	s, ok := r.streams[key]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return s.subscriberCount()
}

// ActiveKeys lists the keys with a live publisher, sorted for stable output.
func (r *Registry) ActiveKeys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.streams))
	for key, s := range r.streams {
		if s.publisher() != "" {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// reap drops the stream state for key once it has neither publisher nor
// subscribers, so idle keys don't accumulate.
func (r *Registry) reap(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[key]; ok && s.publisher() == "" && s.subscriberCount() == 0 {
		delete(r.streams, key)
	}
}
