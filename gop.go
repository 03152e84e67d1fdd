package rtmp

// GopCache retains the frames of the current group of pictures so that a newly
// attached player starts decoding immediately instead of waiting for the next
// keyframe. Sequence headers are kept separately on the Stream; the cache only
// holds media frames.
//
// GopCache is not safe for concurrent use; the owning Stream serializes access.
type GopCache struct {
	maxFrames int
	maxBytes  int

	frames []Frame
	bytes  int
	// disabled is set when a GOP exceeds the configured limits. Caching resumes
	// at the next keyframe, so an oversized GOP can never pin unbounded memory.
	disabled bool
}

// NewGopCache returns a cache bounded by maxFrames and maxBytes. With both
// limits zero or negative the cache is inert: nothing is retained and
// subscribers wait for the next keyframe instead of replaying.
func NewGopCache(maxFrames, maxBytes int) *GopCache {
	return &GopCache{
		maxFrames: maxFrames,
		maxBytes:  maxBytes,
	}
}

// Push adds a frame to the cache. A keyframe starts a new epoch: everything
// cached before it is discarded and caching is re-enabled if a previous GOP
// had overflowed. Sequence headers must not be pushed.
func (g *GopCache) Push(frame Frame) {
	if g.maxFrames <= 0 && g.maxBytes <= 0 {
		return
	}
	if frame.Type == MediaVideo && frame.IsKeyframe {
		g.frames = g.frames[:0]
		g.bytes = 0
		g.disabled = false
	}

	if g.disabled {
		return
	}

	if (g.maxFrames > 0 && len(g.frames) >= g.maxFrames) ||
		(g.maxBytes > 0 && g.bytes+frame.Size() > g.maxBytes) {
		// Dropping only the newest frame would replay a GOP with holes, which
		// decodes as artifacts. Drop the whole epoch instead.
		g.frames = g.frames[:0]
		g.bytes = 0
		g.disabled = true
		return
	}

	g.frames = append(g.frames, frame)
	g.bytes += frame.Size()
}

// Snapshot returns the cached frames in arrival order. The returned slice is a
// copy; callers may hold it while the cache keeps mutating.
func (g *GopCache) Snapshot() []Frame {
	if len(g.frames) == 0 {
		return nil
	}
	out := make([]Frame, len(g.frames))
	copy(out, g.frames)
	return out
}

// Len returns the number of cached frames.
func (g *GopCache) Len() int {
	return len(g.frames)
}

// Bytes returns the total payload size of the cached frames.
func (g *GopCache) Bytes() int {
	return g.bytes
}

// Reset empties the cache and re-enables caching.
func (g *GopCache) Reset() {
	g.frames = nil
	g.bytes = 0
	g.disabled = false
}
