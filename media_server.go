package rtmp

import (
	"github.com/pksorensen/video-streaming-portal-sub001/audio"
	"github.com/pksorensen/video-streaming-portal-sub001/video"
)

// MediaServer is the set of callbacks a MessageManager drives as it decodes
// the inbound message stream. Session implements it for the server side and
// Client for the pull side.
type MediaServer interface {
	onConnect(csID uint32, transactionID float64, data map[string]interface{}) error
	onReleaseStream(csID uint32, transactionID float64, data map[string]interface{}, streamKey string) error
	onFCPublish(csID uint32, transactionID float64, data map[string]interface{}, streamKey string) error
	onCreateStream(csID uint32, transactionID float64, data map[string]interface{}) error
	onPublish(transactionID float64, data map[string]interface{}, streamKey string, publishingType string) error
	onPlay(streamKey string, startTime float64) error
	onFCUnpublish(data map[string]interface{}, streamKey string) error
	onCloseStream(csID uint32, transactionID float64, data map[string]interface{}) error
	onDeleteStream(data map[string]interface{}, streamID float64) error
	onResult(info map[string]interface{}) error
	onStatus(info map[string]interface{}) error

	onSetChunkSize(size uint32)
	onAbortMessage(chunkStreamID uint32)
	onAck(sequenceNumber uint32)
	onSetWindowAckSize(windowAckSize uint32)
	onSetBandwidth(windowAckSize uint32, limitType uint8)
	onStreamBegin(streamID uint32)
	onPingRequest(timestamp uint32) error
	onPingResponse(timestamp uint32)

	onMetadata(metadata map[string]interface{}) error
	onAudioMessage(format audio.Format, sampleRate audio.SampleRate, sampleSize audio.SampleSize, channels audio.Channel, payload []byte, timestamp uint32) error
	onVideoMessage(frameType video.FrameType, codec video.Codec, payload []byte, timestamp uint32) error
}
