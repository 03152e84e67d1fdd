// Package flv serializes media frames into the FLV container, the on-disk and
// on-pipe format fed to external pipelines and HLS segmenting.
package flv

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/pksorensen/video-streaming-portal-sub001/amf/amf0"
	"github.com/pksorensen/video-streaming-portal-sub001/internal/binary24"
)

// Tag types.
const (
	TagAudio      uint8 = 8
	TagVideo      uint8 = 9
	TagScriptData uint8 = 18
)

const headerSize = 9

var signature = [3]byte{'F', 'L', 'V'}

// Writer emits an FLV byte stream: the file header once, then one tag per
// media frame. It is not safe for concurrent use.
type Writer struct {
	w           io.Writer
	wroteHeader bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the FLV file header. Calling it again is a no-op, so
// callers can defensively emit it before the first tag.
func (w *Writer) WriteHeader(hasAudio, hasVideo bool) error {
	if w.wroteHeader {
		return nil
	}
	header := make([]byte, headerSize+4)
	copy(header[:3], signature[:])
	header[3] = 1
	if hasAudio {
		header[4] |= 0x04
	}
	if hasVideo {
		header[4] |= 0x01
	}
	binary.BigEndian.PutUint32(header[5:9], headerSize)
	// The 4 bytes after the header are PreviousTagSize0, always zero.
	if _, err := w.w.Write(header); err != nil {
		return errors.Wrap(err, "flv: write header")
	}
	w.wroteHeader = true
	return nil
}

// WriteTag writes one complete tag. The payload for audio and video tags
// includes the one-byte codec header, exactly as carried in the wire message.
func (w *Writer) WriteTag(tagType uint8, payload []byte, timestamp uint32) error {
	if !w.wroteHeader {
		if err := w.WriteHeader(true, true); err != nil {
			return err
		}
	}

	header := make([]byte, 11)
	header[0] = tagType
	binary24.BigEndian.PutUint24(header[1:4], uint32(len(payload)))
	// The timestamp is 24 bits plus one extension byte holding bits 24-31.
	binary24.BigEndian.PutUint24(header[4:7], timestamp&0xFFFFFF)
	header[7] = byte(timestamp >> 24)
	// Bytes 8-10 are the stream id, always zero.

	if _, err := w.w.Write(header); err != nil {
		return errors.Wrap(err, "flv: write tag header")
	}
	if _, err := w.w.Write(payload); err != nil {
		return errors.Wrap(err, "flv: write tag payload")
	}

	prevTagSize := make([]byte, 4)
	binary.BigEndian.PutUint32(prevTagSize, uint32(11+len(payload)))
	if _, err := w.w.Write(prevTagSize); err != nil {
		return errors.Wrap(err, "flv: write previous tag size")
	}
	return nil
}

// WriteAudio writes an audio tag.
func (w *Writer) WriteAudio(payload []byte, timestamp uint32) error {
	return w.WriteTag(TagAudio, payload, timestamp)
}

// WriteVideo writes a video tag.
func (w *Writer) WriteVideo(payload []byte, timestamp uint32) error {
	return w.WriteTag(TagVideo, payload, timestamp)
}

// WriteMetadata writes the stream's onMetaData object as a script data tag.
func (w *Writer) WriteMetadata(metadata map[string]interface{}) error {
	name, err := amf0.Encode("onMetaData")
	if err != nil {
		return errors.Wrap(err, "flv: encode metadata name")
	}
	body, err := amf0.Encode(amf0.ECMAArray(metadata))
	if err != nil {
		return errors.Wrap(err, "flv: encode metadata")
	}
	return w.WriteTag(TagScriptData, append(name, body...), 0)
}
