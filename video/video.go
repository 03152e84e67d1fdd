// Package video defines the video tag header values of the FLV container,
// which the wire protocol uses to describe video message payloads.
package video

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// Video info/command frame
	CommandFrame FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
)

// AVCPacketType distinguishes the decoder configuration record from NAL units.
type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// ParseHeader splits the first byte of a video payload into its fields.
func ParseHeader(b byte) (FrameType, Codec) {
	return FrameType((b >> 4) & 0x0F), Codec(b & 0x0F)
}

// IsKeyFrame reports whether payload starts a new group of pictures.
// The payload must include the video tag header byte at index 0.
func IsKeyFrame(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	frameType, _ := ParseHeader(payload[0])
	return frameType == KeyFrame || frameType == GeneratedKeyFrame
}

// IsSequenceHeader reports whether payload is an AVC sequence header.
func IsSequenceHeader(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	_, codec := ParseHeader(payload[0])
	return codec == H264 && AVCPacketType(payload[1]) == AVCSequenceHeader
}
