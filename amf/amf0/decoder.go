package amf0

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// errTruncated is returned when a value declares more bytes than the input
// holds. Input arrives straight off the wire, so every length field is
// validated before slicing.
var errTruncated = errors.New("amf0: truncated input")

// Decode returns the Go form of the first AMF0 value in b.
// Possible return types: float64, bool, string, map[string]interface{}, nil,
// ECMAArray, time.Time, ObjectEnd. Numbers always decode as float64.
func Decode(b []byte) (interface{}, error) {
	if isObjectEnd(b) {
		return ObjectEnd{}, nil
	}
	if len(b) == 0 {
		return nil, errors.New("amf0: cannot decode empty input")
	}
	switch b[0] {
	case TypeNumber:
		if len(b) < 9 {
			return nil, errTruncated
		}
		return decodeNumber(b[1:]), nil
	case TypeBoolean:
		if len(b) < 2 {
			return nil, errTruncated
		}
		return b[1] != 0, nil
	case TypeString:
		if len(b) < 3 {
			return nil, errTruncated
		}
		length := int(binary.BigEndian.Uint16(b[1:3]))
		if len(b) < 3+length {
			return nil, errTruncated
		}
		return string(b[3 : 3+length]), nil
	case TypeLongString:
		if len(b) < 5 {
			return nil, errTruncated
		}
		length := binary.BigEndian.Uint32(b[1:5])
		if uint64(len(b)) < 5+uint64(length) {
			return nil, errTruncated
		}
		return string(b[5 : 5+length]), nil
	case TypeObject:
		return decodeObject(b[1:])
	case TypeNull:
		return nil, nil
	case TypeECMAArray:
		return decodeECMAArray(b[1:])
	case TypeDate:
		if len(b) < 11 {
			return nil, errTruncated
		}
		return decodeDate(b[1:]), nil
	default:
		return nil, errors.Errorf("amf0: cannot decode value with type marker 0x%02x", b[0])
	}
}

// Size returns the number of bytes v occupies in its AMF0 representation,
// including the type marker. Used by callers to advance through a payload
// after decoding a value.
func Size(v interface{}) uint64 {
	switch v := v.(type) {
	case float64:
		return 9 // marker + 8 data bytes
	case bool:
		return 2 // marker + 1 data byte
	case string:
		length := uint64(len(v))
		if length < longStringThreshold {
			return 3 + length // marker + 16-bit length + data
		}
		return 5 + length // marker + 32-bit length + data
	case map[string]interface{}:
		var size uint64
		for key, val := range v {
			size += Size(key) - 1 // object keys omit the string type marker
			size += Size(val)
		}
		return size + 4 // marker + trailing 0x00 0x00 0x09
	case ECMAArray:
		var size uint64
		for key, val := range v {
			size += Size(key) - 1 // array keys also omit the string type marker
			size += Size(val)
		}
		return size + 5 // marker + 32-bit associative count
	case nil:
		return 1
	case time.Time:
		return 11 // marker + 8 data bytes + 2 time zone bytes
	default:
		return 0
	}
}

func isObjectEnd(b []byte) bool {
	return len(b) >= 3 && b[0] == 0x00 && b[1] == 0x00 && b[2] == TypeObjectEnd
}

// decodeKey reads a bare key (16-bit length + bytes, no type marker) and
// returns it with the remaining input.
func decodeKey(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, errTruncated
	}
	length := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+length {
		return "", nil, errTruncated
	}
	return string(b[2 : 2+length]), b[2+length:], nil
}

// decodeValue decodes one value and returns the remaining input. A value that
// occupies zero bytes (an object-end marker where a value belongs) is rejected
// so malformed input cannot loop forever.
func decodeValue(b []byte) (interface{}, []byte, error) {
	val, err := Decode(b)
	if err != nil {
		return nil, nil, err
	}
	n := Size(val)
	if n == 0 || n > uint64(len(b)) {
		return nil, nil, errTruncated
	}
	return val, b[n:], nil
}

func decodeObject(b []byte) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	for {
		if isObjectEnd(b) {
			return m, nil
		}
		key, rest, err := decodeKey(b)
		if err != nil {
			return nil, err
		}
		val, rest, err := decodeValue(rest)
		if err != nil {
			return nil, err
		}
		m[key] = val
		b = rest
	}
}

func decodeECMAArray(b []byte) (ECMAArray, error) {
	if len(b) < 4 {
		return nil, errTruncated
	}
	count := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	m := make(ECMAArray)
	for i := uint32(0); i < count; i++ {
		key, rest, err := decodeKey(b)
		if err != nil {
			return nil, err
		}
		val, rest, err := decodeValue(rest)
		if err != nil {
			return nil, err
		}
		m[key] = val
		b = rest
	}
	return m, nil
}

func decodeDate(b []byte) time.Time {
	millis := math.Float64frombits(binary.BigEndian.Uint64(b))
	return time.UnixMilli(int64(millis))
}

func decodeNumber(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}
