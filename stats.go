package rtmp

// StatsCollector receives counters from the server's hot paths. Implementations
// must be safe for concurrent use and must never block: these calls happen on
// the publisher's broadcast path.
type StatsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	PublishStarted(streamKey string)
	PublishStopped(streamKey string)
	SubscriberAdded(streamKey string)
	SubscriberRemoved(streamKey string)
	FrameBroadcast(streamKey string, mediaType MediaType, bytes int)
	FrameDropped(streamKey string)
	SubscriberOverflowed(streamKey string)
}

// NopCollector discards all stats. It is the default when no collector is wired.
type NopCollector struct{}

func (NopCollector) ConnectionOpened()                     {}
func (NopCollector) ConnectionClosed()                     {}
func (NopCollector) PublishStarted(string)                 {}
func (NopCollector) PublishStopped(string)                 {}
func (NopCollector) SubscriberAdded(string)                {}
func (NopCollector) SubscriberRemoved(string)              {}
func (NopCollector) FrameBroadcast(string, MediaType, int) {}
func (NopCollector) FrameDropped(string)                   {}
func (NopCollector) SubscriberOverflowed(string)           {}
