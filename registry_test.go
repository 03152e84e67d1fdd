package rtmp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockSubscriber records every delivery on a buffered channel so tests can
// assert order without racing the delivery goroutine.
type mockSubscriber struct {
	id      string
	events  chan string
	sendErr error

	mu     sync.Mutex
	closed bool
}

func newMockSubscriber(id string) *mockSubscriber {
	return &mockSubscriber{id: id, events: make(chan string, 64)}
}

func (m *mockSubscriber) GetID() string {
	return m.id
}

func (m *mockSubscriber) SendAudio(payload []byte, timestamp uint32) error {
	m.events <- fmt.Sprintf("audio:%d", timestamp)
	return m.sendErr
}

func (m *mockSubscriber) SendVideo(payload []byte, timestamp uint32) error {
	m.events <- fmt.Sprintf("video:%d", timestamp)
	return m.sendErr
}

func (m *mockSubscriber) SendMetadata(metadata map[string]interface{}) error {
	m.events <- "metadata"
	return m.sendErr
}

func (m *mockSubscriber) SendEndOfStream() {
	m.events <- "eos"
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSubscriber) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// nextEvent waits for the subscriber's next delivery.
func (m *mockSubscriber) nextEvent(t *testing.T) string {
	t.Helper()
	select {
	case e := <-m.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a delivery")
		return ""
	}
}

func (m *mockSubscriber) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case e := <-m.events:
		t.Fatalf("unexpected delivery %q", e)
	case <-time.After(50 * time.Millisecond):
	}
}

// countingStats counts the collector callbacks the fan-out makes.
type countingStats struct {
	dropped    atomic.Int64
	overflowed atomic.Int64
}

func (*countingStats) ConnectionOpened()                     {}
func (*countingStats) ConnectionClosed()                     {}
func (*countingStats) PublishStarted(string)                 {}
func (*countingStats) PublishStopped(string)                 {}
func (*countingStats) SubscriberAdded(string)                {}
func (*countingStats) SubscriberRemoved(string)              {}
func (*countingStats) FrameBroadcast(string, MediaType, int) {}
func (c *countingStats) FrameDropped(string)                 { c.dropped.Add(1) }
func (c *countingStats) SubscriberOverflowed(string)         { c.overflowed.Add(1) }

func testRegistry() *Registry {
	return NewRegistry(RegistryOptions{
		GopMaxFrames: 128,
		GopMaxBytes:  1 << 20,
		QueueSize:    64,
		Policy:       OverflowDropOldest,
	})
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRegistry_PublisherExclusivity(t *testing.T) {
	r := testRegistry()

	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.RegisterPublisher("live/a", "session-2"); err != ErrAlreadyPublishing {
		t.Errorf("got %v, want %v", err, ErrAlreadyPublishing)
	}
	// A different key is unaffected.
	if err := r.RegisterPublisher("live/b", "session-2"); err != nil {
		t.Errorf("unexpected error on a different key: %v", err)
	}
}

func TestRegistry_ConcurrentPublishersOneWinner(t *testing.T) {
	r := testRegistry()

	const n = 16
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.RegisterPublisher("live/a", fmt.Sprintf("session-%d", i)) == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("got %v successful publishers, want exactly 1", wins.Load())
	}
}

func TestRegistry_KeyReusableAfterDestroy(t *testing.T) {
	r := testRegistry()

	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the holder can release the key.
	if r.DestroyPublisher("live/a", "session-2") {
		t.Errorf("expected destroy by a non-holder to report false")
	}
	if !r.DestroyPublisher("live/a", "session-1") {
		t.Fatalf("expected destroy by the holder to report true")
	}
	if r.DestroyPublisher("live/a", "session-1") {
		t.Errorf("expected a second destroy to report false")
	}

	if err := r.RegisterPublisher("live/a", "session-2"); err != nil {
		t.Errorf("expected the key to be immediately reusable, got %v", err)
	}
}

func TestRegistry_StreamExists(t *testing.T) {
	r := testRegistry()

	if r.StreamExists("live/a") {
		t.Errorf("expected no stream before publishing")
	}
	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.StreamExists("live/a") {
		t.Errorf("expected the stream to exist while published")
	}
	r.DestroyPublisher("live/a", "session-1")
	if r.StreamExists("live/a") {
		t.Errorf("expected the stream to be gone after destroy")
	}
}

func TestRegistry_ActiveKeysSorted(t *testing.T) {
	r := testRegistry()
	for _, key := range []string{"live/c", "live/a", "live/b"} {
		if err := r.RegisterPublisher(key, "session-"+key); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// A subscribed-only key has no publisher and must not be listed.
	r.RegisterSubscriber("live/idle", newMockSubscriber("viewer"))

	keys := r.ActiveKeys()
	want := []string{"live/a", "live/b", "live/c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestRegistry_EndOfStreamOnDestroy(t *testing.T) {
	r := testRegistry()
	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := newMockSubscriber("viewer")
	r.RegisterSubscriber("live/a", sub)
	if r.SubscriberCount("live/a") != 1 {
		t.Fatalf("got %v subscribers, want 1", r.SubscriberCount("live/a"))
	}

	r.DestroyPublisher("live/a", "session-1")

	if got := sub.nextEvent(t); got != "eos" {
		t.Errorf("got %q, want eos", got)
	}
	eventually(t, func() bool { return r.SubscriberCount("live/a") == 0 },
		"expected the subscriber to detach after end of stream")
}

func TestRegistry_AttachReplaysPreambleAndGop(t *testing.T) {
	r := testRegistry()
	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The publisher's preamble and first GOP arrive before anyone watches.
	r.Broadcast("live/a", Frame{Type: MediaMetadata, Metadata: map[string]interface{}{"width": 1280.0}})
	r.Broadcast("live/a", Frame{Type: MediaVideo, Payload: []byte{0x17, 0x00}, IsSequenceHeader: true})
	r.Broadcast("live/a", Frame{Type: MediaAudio, Payload: []byte{0xAF, 0x00}, IsSequenceHeader: true})
	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 100, Payload: []byte{0x17, 0x01}, IsKeyframe: true})
	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 140, Payload: []byte{0x27, 0x01}})

	sub := newMockSubscriber("viewer")
	r.RegisterSubscriber("live/a", sub)

	// Preamble first, then the cached GOP in arrival order.
	want := []string{"metadata", "video:0", "audio:0", "video:100", "video:140"}
	for _, w := range want {
		if got := sub.nextEvent(t); got != w {
			t.Fatalf("got %q, want %q", got, w)
		}
	}

	// Live frames continue behind the replay.
	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 180, Payload: []byte{0x27, 0x01}})
	if got := sub.nextEvent(t); got != "video:180" {
		t.Errorf("got %q, want video:180", got)
	}
}

func TestRegistry_SubscriberWaitsForKeyframeWithoutGop(t *testing.T) {
	// No GOP cache: a late joiner must not receive inter frames from the
	// middle of a group of pictures.
	r := NewRegistry(RegistryOptions{QueueSize: 64, Policy: OverflowDropOldest})
	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := newMockSubscriber("viewer")
	r.RegisterSubscriber("live/a", sub)

	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 100, Payload: []byte{0x27, 0x01}})
	sub.expectNoEvent(t)

	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 140, Payload: []byte{0x17, 0x01}, IsKeyframe: true})
	if got := sub.nextEvent(t); got != "video:140" {
		t.Fatalf("got %q, want video:140", got)
	}
	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 180, Payload: []byte{0x27, 0x01}})
	if got := sub.nextEvent(t); got != "video:180" {
		t.Errorf("got %q, want video:180", got)
	}
}

func TestRegistry_SubscribeBeforePublish(t *testing.T) {
	r := testRegistry()
	sub := newMockSubscriber("viewer")
	r.RegisterSubscriber("live/a", sub)

	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 0, Payload: []byte{0x17, 0x01}, IsKeyframe: true})

	if got := sub.nextEvent(t); got != "video:0" {
		t.Errorf("got %q, want video:0", got)
	}
}

func TestRegistry_CancelDetaches(t *testing.T) {
	r := testRegistry()
	sub := newMockSubscriber("viewer")
	sn := r.RegisterSubscriber("live/a", sub)

	sn.Cancel()
	eventually(t, func() bool { return r.SubscriberCount("live/a") == 0 },
		"expected Cancel to detach the subscriber")

	// Cancel is idempotent.
	sn.Cancel()
}

func TestRegistry_BroadcastUnknownKey(t *testing.T) {
	r := testRegistry()
	// Must not panic or create stream state.
	r.Broadcast("live/nobody", Frame{Type: MediaAudio, Payload: []byte{0xAF}})
	if r.SubscriberCount("live/nobody") != 0 {
		t.Errorf("expected no state for an unknown key")
	}
}

func TestRegistry_DeliveryErrorEvictsSubscriber(t *testing.T) {
	r := testRegistry()
	if err := r.RegisterPublisher("live/a", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := newMockSubscriber("viewer")
	sub.sendErr = errSendFailed
	r.RegisterSubscriber("live/a", sub)

	r.Broadcast("live/a", Frame{Type: MediaVideo, Timestamp: 0, Payload: []byte{0x17, 0x01}, IsKeyframe: true})

	eventually(t, func() bool { return sub.isClosed() },
		"expected a failing subscriber to be closed")
	eventually(t, func() bool { return r.SubscriberCount("live/a") == 0 },
		"expected a failing subscriber to be detached")
}

var errSendFailed = fmt.Errorf("send failed")
