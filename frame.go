package rtmp

// MediaType identifies the kind of payload a Frame carries through the fan-out.
type MediaType uint8

const (
	MediaAudio MediaType = iota + 1
	MediaVideo
	MediaMetadata
	// mediaEndOfStream is an internal sentinel queued behind the last live frame
	// so subscribers observe stream end in delivery order.
	mediaEndOfStream
)

// Frame is one application message ingested from a publisher: a tagged payload
// plus its timestamp. The payload includes the FLV tag header bytes so it can
// be forwarded to playback clients and relay pipelines without re-encoding.
type Frame struct {
	Type      MediaType
	Timestamp uint32
	Payload   []byte

	// IsKeyframe is true for video frames that start a new group of pictures.
	IsKeyframe bool
	// IsSequenceHeader is true for AVC/AAC sequence headers, which are cached
	// independently of the GOP buffer and replayed to every new subscriber.
	IsSequenceHeader bool

	// Metadata carries the decoded onMetadata object for MediaMetadata frames.
	Metadata map[string]interface{}
}

// Size returns the payload size in bytes, used for GOP cache accounting.
func (f Frame) Size() int {
	return len(f.Payload)
}
