// Package amf0 implements the AMF0 encoding used by the command and data
// messages of the wire protocol. Only the types that appear in command
// payloads are supported.
package amf0

// ECMAArray is an AMF0 ECMA array: an object with an associative count prefix.
type ECMAArray map[string]interface{}

// ObjectEnd is returned by Decode when the input starts with the 0x00 0x00 0x09
// end-of-object marker.
type ObjectEnd struct{}

// Type markers, per the AMF0 specification.
const (
	TypeNumber      byte = 0x00
	TypeBoolean     byte = 0x01
	TypeString      byte = 0x02
	TypeObject      byte = 0x03
	TypeMovieClip   byte = 0x04 // reserved, not supported
	TypeNull        byte = 0x05
	TypeUndefined   byte = 0x06
	TypeReference   byte = 0x07
	TypeECMAArray   byte = 0x08
	TypeObjectEnd   byte = 0x09
	TypeStrictArray byte = 0x0A
	TypeDate        byte = 0x0B
	TypeLongString  byte = 0x0C
	TypeUnsupported byte = 0x0D
	TypeRecordSet   byte = 0x0E // reserved, not supported
	TypeXMLDocument byte = 0x0F
	TypeTypedObject byte = 0x10
)

// longStringThreshold is the string length at which encoding switches from
// TypeString (16-bit length) to TypeLongString (32-bit length).
const longStringThreshold = 65535
