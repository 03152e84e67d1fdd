package rtmp

import (
	"errors"
	"fmt"
)

// ProtocolError indicates malformed framing or an out-of-range header field.
// Protocol errors are fatal to the connection that produced them: the owning
// connection is closed and no partial message is delivered downstream.
type ProtocolError struct {
	reason string
}

func (e *ProtocolError) Error() string {
	return "rtmp: protocol error: " + e.reason
}

// NewProtocolError returns a connection-fatal protocol error with the given reason.
func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{reason: reason}
}

// NewProtocolErrorf is NewProtocolError with fmt.Sprintf formatting.
func NewProtocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{reason: fmt.Sprintf(format, args...)}
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

var (
	// ErrUnknownChunkType is returned when a chunk basic header carries a format
	// value outside the four defined chunk types.
	ErrUnknownChunkType = NewProtocolError("unknown chunk type")

	// ErrNoPreviousChunk is returned when a compressed chunk header (type 1, 2 or 3)
	// references a chunk stream ID for which no type 0 chunk has been seen.
	ErrNoPreviousChunk = NewProtocolError("compressed chunk header references unknown chunk stream ID")

	// ErrMessageTooLarge is returned when a message header declares a length above
	// the configured maximum. It guards against resource exhaustion by a single peer.
	ErrMessageTooLarge = NewProtocolError("declared message length exceeds configured maximum")

	// ErrUnsupportedRTMPVersion is returned during the handshake when the peer
	// requests a protocol version other than 3.
	ErrUnsupportedRTMPVersion = NewProtocolError("unsupported RTMP version")

	// ErrHandshakeMismatch is returned when the peer's echo of our random
	// handshake data does not match what was sent.
	ErrHandshakeMismatch = NewProtocolError("handshake echo does not match")
)

var (
	// ErrAlreadyPublishing is returned by the registry when a second session
	// attempts to publish on a stream key that already has an active publisher.
	ErrAlreadyPublishing = errors.New("rtmp: stream key already has an active publisher")

	// ErrStreamNotFound is returned when an operation references a stream key
	// with no registered state.
	ErrStreamNotFound = errors.New("rtmp: stream not found")

	// ErrTooManyConnections is returned by the server when accepting a connection
	// would exceed the configured connection ceiling.
	ErrTooManyConnections = errors.New("rtmp: maximum number of connections reached")

	// ErrSessionClosed is returned when an operation is attempted on a session
	// that has already transitioned to the Closed state.
	ErrSessionClosed = errors.New("rtmp: session is closed")
)
