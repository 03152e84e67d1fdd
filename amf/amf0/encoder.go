package amf0

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Encode returns the AMF0 representation of v. Supported input types:
// float64, int, bool, string, map[string]interface{}, nil, ECMAArray, time.Time.
func Encode(v interface{}) ([]byte, error) {
	switch v := v.(type) {
	case float64:
		return encodeNumber(v), nil
	case int:
		return encodeNumber(float64(v)), nil
	case bool:
		return encodeBoolean(v), nil
	case string:
		return encodeString(v), nil
	case map[string]interface{}:
		return encodeObject(v), nil
	case nil:
		return []byte{TypeNull}, nil
	case ECMAArray:
		return encodeECMAArray(v), nil
	case time.Time:
		return encodeDate(v), nil
	default:
		return nil, errors.Errorf("amf0: cannot encode type %T", v)
	}
}

func encodeNumber(number float64) []byte {
	var buf [9]byte
	buf[0] = TypeNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(number))
	return buf[:]
}

func encodeBoolean(b bool) []byte {
	buf := [2]byte{TypeBoolean, 0}
	if b {
		buf[1] = 1
	}
	return buf[:]
}

func encodeString(s string) []byte {
	if len(s) < longStringThreshold {
		str := make([]byte, 3+len(s))
		str[0] = TypeString
		binary.BigEndian.PutUint16(str[1:3], uint16(len(s)))
		copy(str[3:], s)
		return str
	}
	str := make([]byte, 5+len(s))
	str[0] = TypeLongString
	binary.BigEndian.PutUint32(str[1:5], uint32(len(s)))
	copy(str[5:], s)
	return str
}

func encodeObject(m map[string]interface{}) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(TypeObject)
	for key := range m {
		// Keys omit the string type marker; they are assumed to be short strings.
		prop := encodeString(key)
		buf.Write(prop[1:])
		val, _ := Encode(m[key])
		buf.Write(val)
	}
	buf.Write([]byte{0x00, 0x00, TypeObjectEnd})
	return buf.Bytes()
}

func encodeECMAArray(m ECMAArray) []byte {
	obj := encodeObject(map[string]interface{}(m))
	// An ECMA array is an object body prefixed with a 32-bit associative count.
	// Strip the object marker and its trailing end-of-object bytes.
	body := obj[1 : len(obj)-3]
	buf := make([]byte, 5+len(body))
	buf[0] = TypeECMAArray
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(m)))
	copy(buf[5:], body)
	return buf
}

func encodeDate(t time.Time) []byte {
	var buf [11]byte
	buf[0] = TypeDate
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(float64(t.UnixMilli())))
	// The final two bytes are the time zone, which AMF0 requires to be 0.
	return buf[:]
}
