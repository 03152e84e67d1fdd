package relay

import (
	"io"
	"sync"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
	"github.com/pksorensen/video-streaming-portal-sub001/flv"
	"github.com/pksorensen/video-streaming-portal-sub001/rand"
)

// sink adapts a pipeline's stdin to the fan-out Subscriber interface: every
// frame delivered to it becomes an FLV tag on the pipe. A write error is
// surfaced back through the Send methods, which evicts the subscription; the
// supervising goroutine then observes the process exit and handles the retry.
type sink struct {
	id     string
	writer *flv.Writer

	mu     sync.Mutex
	stdin  io.WriteCloser
	closed bool
	eos    bool
}

func newSink(stdin io.WriteCloser) *sink {
	return &sink{
		id:     rand.NewID(),
		writer: flv.NewWriter(stdin),
		stdin:  stdin,
	}
}

func (s *sink) GetID() string {
	return s.id
}

func (s *sink) SendAudio(payload []byte, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.writer.WriteAudio(payload, timestamp)
}

func (s *sink) SendVideo(payload []byte, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.writer.WriteVideo(payload, timestamp)
}

func (s *sink) SendMetadata(metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.writer.WriteMetadata(metadata)
}

// SendEndOfStream closes the pipe so the pipeline drains and exits cleanly.
func (s *sink) SendEndOfStream() {
	s.mu.Lock()
	s.eos = true
	s.mu.Unlock()
	_ = s.Close()
}

// sawEndOfStream reports whether the publisher ended the stream, as opposed
// to the pipeline dying on its own.
func (s *sink) sawEndOfStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stdin.Close()
}

var _ rtmp.Subscriber = (*sink)(nil)
