// Package hls turns published streams into segment files plus a sliding-window
// live playlist, served over HTTP.
package hls

import (
	"fmt"
	"math"
	"strings"
)

// Segment is one finished media segment in a stream's window.
type Segment struct {
	Sequence int64
	Duration float64
	Path     string
}

// BuildLivePlaylist renders a window of segments (ordered by ascending
// sequence) as a live playlist. With ended set, an ENDLIST tag closes it.
func BuildLivePlaylist(segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", segments[0].Sequence)

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.1f,\n", seg.Duration)
		b.WriteString(seg.Path)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// targetDuration is the TARGETDURATION value: the ceiling of the longest
// segment duration, at least 1.
func targetDuration(segments []Segment) int {
	longest := 0.0
	for _, seg := range segments {
		if seg.Duration > longest {
			longest = seg.Duration
		}
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}
