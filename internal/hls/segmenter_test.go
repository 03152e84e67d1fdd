package hls

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

var (
	avcSeqHeader  = []byte{0x17, 0x00, 0x00, 0x00, 0x00}
	avcKeyframe   = []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA}
	avcInterframe = []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xBB}
	aacSeqHeader  = []byte{0xAF, 0x00, 0x12, 0x10}
	aacRaw        = []byte{0xAF, 0x01, 0xCC}
)

func newTestSegmenter(t *testing.T, minLength time.Duration, window int) *Segmenter {
	t.Helper()
	s, err := NewSegmenter(zap.NewNop(), t.TempDir(), "live/a", minLength, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

// tagTypes walks an FLV byte stream and returns the tag types in order.
func tagTypes(t *testing.T, data []byte) []uint8 {
	t.Helper()
	if !bytes.HasPrefix(data, []byte("FLV")) {
		t.Fatalf("segment does not start with an FLV header")
	}
	var types []uint8
	rest := data[13:] // header + PreviousTagSize0
	for len(rest) >= 11 {
		types = append(types, rest[0])
		size := binary.BigEndian.Uint32(append([]byte{0}, rest[1:4]...))
		rest = rest[11+size+4:]
	}
	return types
}

func TestNewSegmenter_ConfinesKeyToBaseDir(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string // relative to the base directory
	}{
		{"plain", "abc", "abc"},
		{"nested", "live/a", "live/a"},
		{"parentEscape", "../escaped", "escaped"},
		{"deepEscape", "../../etc/cron.d", "etc/cron.d"},
		{"absolute", "/etc/escaped", "etc/escaped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "hls")
			s, err := NewSegmenter(zap.NewNop(), base, tt.key, time.Second, 4)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := filepath.Join(base, tt.want)
			if s.Dir() != want {
				t.Errorf("got segment dir %s, want %s", s.Dir(), want)
			}
			if !strings.HasPrefix(s.Dir(), base+string(os.PathSeparator)) {
				t.Errorf("segment dir %s escapes base %s", s.Dir(), base)
			}
		})
	}
}

func TestSegmenter_OpensOnFirstKeyframe(t *testing.T) {
	s := newTestSegmenter(t, 2*time.Second, 4)

	// Nothing to segment before the first keyframe.
	if err := s.SendAudio(aacRaw, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendVideo(avcInterframe, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "00000.flv")); !os.IsNotExist(err) {
		t.Fatalf("expected no segment before the first keyframe")
	}

	if err := s.SendVideo(avcKeyframe, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "00000.flv")); err != nil {
		t.Errorf("expected the first keyframe to open a segment: %v", err)
	}
}

func TestSegmenter_PreambleReplayedPerSegment(t *testing.T) {
	s := newTestSegmenter(t, 2*time.Second, 4)

	if err := s.SendMetadata(map[string]interface{}{"width": 1280.0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendVideo(avcSeqHeader, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendAudio(aacSeqHeader, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendVideo(avcKeyframe, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Cross the segment boundary so a second segment opens.
	if err := s.SendVideo(avcKeyframe, 2000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"00000.flv", "00001.flv"} {
		data, err := os.ReadFile(filepath.Join(s.Dir(), name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		types := tagTypes(t, data)
		// Script data, video sequence header, audio sequence header, keyframe:
		// every segment decodes on its own.
		want := []uint8{18, 9, 8, 9}
		if len(types) != len(want) {
			t.Fatalf("%s: got tag types %v, want %v", name, types, want)
		}
		for i := range want {
			if types[i] != want[i] {
				t.Fatalf("%s: got tag types %v, want %v", name, types, want)
			}
		}
	}
}

func TestSegmenter_RotatesOnKeyframeAfterMinDuration(t *testing.T) {
	s := newTestSegmenter(t, 2*time.Second, 4)

	if err := s.SendVideo(avcKeyframe, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendVideo(avcInterframe, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A keyframe before the minimum duration must not cut.
	if err := s.SendVideo(avcKeyframe, 1500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(s.Playlist(), "00000.flv") {
		t.Fatalf("segment cut before the minimum duration:\n%s", s.Playlist())
	}

	// An inter frame past the minimum duration must not cut either.
	if err := s.SendVideo(avcInterframe, 2500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(s.Playlist(), "00000.flv") {
		t.Fatalf("segment cut on an inter frame:\n%s", s.Playlist())
	}

	if err := s.SendVideo(avcKeyframe, 3000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	playlist := s.Playlist()
	if !strings.Contains(playlist, "00000.flv") {
		t.Fatalf("expected the finished segment in the playlist:\n%s", playlist)
	}
	if !strings.Contains(playlist, "#EXTINF:3.0,") {
		t.Errorf("expected a 3.0s segment duration:\n%s", playlist)
	}
}

func TestSegmenter_WindowPrunesSegmentsAndFiles(t *testing.T) {
	s := newTestSegmenter(t, time.Second, 2)

	// Four keyframes a full segment apart: three finished segments.
	for i, ts := range []uint32{0, 1000, 2000, 3000} {
		if err := s.SendVideo(avcKeyframe, ts); err != nil {
			t.Fatalf("keyframe %d: unexpected error: %v", i, err)
		}
	}

	playlist := s.Playlist()
	if strings.Contains(playlist, "00000.flv") {
		t.Errorf("expected the oldest segment to slide out:\n%s", playlist)
	}
	for _, name := range []string{"00001.flv", "00002.flv"} {
		if !strings.Contains(playlist, name) {
			t.Errorf("expected %s in the window:\n%s", name, playlist)
		}
	}
	if !strings.Contains(playlist, "#EXT-X-MEDIA-SEQUENCE:1\n") {
		t.Errorf("expected the media sequence to advance:\n%s", playlist)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "00000.flv")); !os.IsNotExist(err) {
		t.Errorf("expected the evicted segment file to be removed")
	}
}

func TestSegmenter_EndOfStream(t *testing.T) {
	s := newTestSegmenter(t, time.Second, 4)

	if err := s.SendVideo(avcKeyframe, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendVideo(avcInterframe, 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.SendEndOfStream()

	playlist := s.Playlist()
	if !strings.Contains(playlist, "00000.flv") {
		t.Errorf("expected the open segment to be finalized:\n%s", playlist)
	}
	if !strings.Contains(playlist, "#EXT-X-ENDLIST\n") {
		t.Errorf("expected ENDLIST after end of stream:\n%s", playlist)
	}

	// Frames after the end are ignored.
	if err := s.SendVideo(avcKeyframe, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(s.Playlist(), "00001.flv") {
		t.Errorf("expected no new segments after end of stream")
	}
}
