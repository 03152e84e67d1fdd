// Package audio defines the audio tag header values of the FLV container,
// which the wire protocol uses to describe audio message payloads.
package audio

type Format uint8

const (
	LinearPCMPlatformEndian Format = 0
	ADPCM                   Format = 1
	MP3                     Format = 2
	LinearPCMLittleEndian   Format = 3
	Nellymoser16KHzMono     Format = 4
	Nellymoser8KHzMono      Format = 5
	Nellymoser              Format = 6
	G711AlawLogPCM          Format = 7
	G711MulawLogPCM         Format = 8
	AAC                     Format = 10
	Speex                   Format = 11
	MP38KHz                 Format = 14
	DeviceSpecificSound     Format = 15
)

type SampleRate uint8

const (
	Rate5p5KHz SampleRate = 0
	Rate11KHz  SampleRate = 1
	Rate22KHz  SampleRate = 2
	Rate44KHz  SampleRate = 3
)

type SampleSize uint8

const (
	Size8Bit  SampleSize = 0
	Size16Bit SampleSize = 1
)

type Channel uint8

const (
	Mono   Channel = 0
	Stereo Channel = 1
)

// AACPacketType distinguishes the decoder configuration record from raw
// frames; sequence headers must reach every subscriber before any raw frame.
type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

// ParseHeader splits the first byte of an audio payload into its fields.
func ParseHeader(b byte) (Format, SampleRate, SampleSize, Channel) {
	return Format((b >> 4) & 0x0F), SampleRate((b >> 2) & 0x03), SampleSize((b >> 1) & 1), Channel(b & 1)
}

// IsSequenceHeader reports whether payload is an AAC sequence header.
// The payload must include the audio tag header byte at index 0.
func IsSequenceHeader(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	format, _, _, _ := ParseHeader(payload[0])
	return format == AAC && AACPacketType(payload[1]) == AACSequenceHeader
}
