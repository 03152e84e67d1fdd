package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
	"github.com/pksorensen/video-streaming-portal-sub001/audio"
	"github.com/pksorensen/video-streaming-portal-sub001/flv"
	"github.com/pksorensen/video-streaming-portal-sub001/rand"
	"github.com/pksorensen/video-streaming-portal-sub001/video"
)

// Segmenter consumes one published stream and cuts it into FLV segment files.
// Segments begin on keyframes only, so every segment decodes standalone; the
// configured duration is a lower bound that the cut waits on until the next
// keyframe arrives. It implements the fan-out Subscriber interface, with all
// Send calls arriving on a single delivery goroutine.
type Segmenter struct {
	id        string
	streamKey string
	dir       string
	minLength time.Duration
	window    int
	logger    *zap.Logger

	mu       sync.Mutex
	file     *os.File
	writer   *flv.Writer
	segStart uint32
	lastTS   uint32
	seq      int64
	segments []Segment
	ended    bool

	metadata map[string]interface{}
	avcSeq   []byte
	aacSeq   []byte
}

// NewSegmenter creates the stream's segment directory and an idle segmenter;
// the first segment opens on the first keyframe.
func NewSegmenter(logger *zap.Logger, baseDir string, streamKey string, minLength time.Duration, window int) (*Segmenter, error) {
	// The stream key is publisher-chosen; rooting it before the join pins the
	// segment directory under baseDir no matter what the key contains.
	dir := filepath.Join(baseDir, filepath.Clean("/"+streamKey))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "hls: create segment dir %s", dir)
	}
	return &Segmenter{
		id:        rand.NewID(),
		streamKey: streamKey,
		dir:       dir,
		minLength: minLength,
		window:    window,
		logger:    logger.With(zap.String("streamKey", streamKey)),
	}, nil
}

func (s *Segmenter) GetID() string {
	return s.id
}

// Dir returns the directory segment files are written to.
func (s *Segmenter) Dir() string {
	return s.dir
}

// Playlist renders the current window.
func (s *Segmenter) Playlist() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BuildLivePlaylist(s.segments, s.ended)
}

func (s *Segmenter) SendVideo(payload []byte, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}

	if video.IsSequenceHeader(payload) {
		s.avcSeq = payload
		return nil
	}

	if video.IsKeyFrame(payload) {
		if s.file == nil {
			if err := s.openSegment(timestamp); err != nil {
				return err
			}
		} else if time.Duration(timestamp-s.segStart)*time.Millisecond >= s.minLength {
			if err := s.rotate(timestamp); err != nil {
				return err
			}
		}
	}
	if s.file == nil {
		return nil
	}
	s.lastTS = timestamp
	return s.writer.WriteVideo(payload, timestamp)
}

func (s *Segmenter) SendAudio(payload []byte, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	if audio.IsSequenceHeader(payload) {
		s.aacSeq = payload
		return nil
	}
	if s.file == nil {
		// Audio before the first keyframe has no segment to live in.
		return nil
	}
	s.lastTS = timestamp
	return s.writer.WriteAudio(payload, timestamp)
}

func (s *Segmenter) SendMetadata(metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = metadata
	return nil
}

// SendEndOfStream finalizes the last segment and marks the playlist ended.
func (s *Segmenter) SendEndOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.closeSegment(s.lastTS)
	}
	s.ended = true
}

func (s *Segmenter) Close() error {
	s.SendEndOfStream()
	return nil
}

// openSegment starts a new segment file at timestamp and replays the stream
// preamble (metadata and sequence headers) so the segment decodes on its own.
func (s *Segmenter) openSegment(timestamp uint32) error {
	name := fmt.Sprintf("%05d.flv", s.seq)
	file, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return errors.Wrap(err, "hls: create segment")
	}
	s.file = file
	s.writer = flv.NewWriter(file)
	s.segStart = timestamp
	s.lastTS = timestamp

	if err := s.writer.WriteHeader(true, true); err != nil {
		return err
	}
	if s.metadata != nil {
		if err := s.writer.WriteMetadata(s.metadata); err != nil {
			return err
		}
	}
	if s.avcSeq != nil {
		if err := s.writer.WriteVideo(s.avcSeq, timestamp); err != nil {
			return err
		}
	}
	if s.aacSeq != nil {
		if err := s.writer.WriteAudio(s.aacSeq, timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Segmenter) rotate(timestamp uint32) error {
	s.closeSegment(timestamp)
	return s.openSegment(timestamp)
}

// closeSegment finishes the current file, appends it to the window and prunes
// segments (and their files) that slid out.
func (s *Segmenter) closeSegment(endTS uint32) {
	name := fmt.Sprintf("%05d.flv", s.seq)
	if err := s.file.Close(); err != nil {
		s.logger.Warn("failed to close segment file", zap.String("segment", name), zap.Error(err))
	}
	duration := float64(endTS-s.segStart) / 1000.0
	s.segments = append(s.segments, Segment{
		Sequence: s.seq,
		Duration: duration,
		Path:     name,
	})
	s.seq++
	s.file = nil
	s.writer = nil

	for s.window > 0 && len(s.segments) > s.window {
		evicted := s.segments[0]
		s.segments = s.segments[1:]
		if err := os.Remove(filepath.Join(s.dir, evicted.Path)); err != nil {
			s.logger.Warn("failed to remove evicted segment", zap.String("segment", evicted.Path), zap.Error(err))
		}
	}
}

var _ rtmp.Subscriber = (*Segmenter)(nil)
