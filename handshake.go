package rtmp

import (
	"bytes"
	"io"

	"github.com/pksorensen/video-streaming-portal-sub001/rand"
)

const RtmpVersion3 = 3

const handshakeRandomSize = 1536

// Handshaker performs the version and echo exchange that precedes chunked
// messaging. Implementations exist for the server and client roles; sessions
// take the interface so tests can substitute a mock.
type Handshaker interface {
	Handshake(reader io.Reader, writer WriteFlusher) error
}

// ServerHandshaker implements the accepting side: read C0+C1, send S0+S1+S2,
// then verify that C2 echoes S1.
type ServerHandshaker struct{}

func (ServerHandshaker) Handshake(reader io.Reader, writer WriteFlusher) error {
	c1, err := readC0C1(reader)
	if err != nil {
		return err
	}
	s1, err := sendS0S1S2(writer, c1)
	if err != nil {
		return err
	}
	c2, err := readC2(reader)
	if err != nil {
		return err
	}
	if !bytes.Equal(s1, c2) {
		return ErrHandshakeMismatch
	}
	return nil
}

// ClientHandshaker implements the dialing side: send C0+C1, read S0+S1+S2,
// verify S2 echoes C1, then send C2 echoing S1.
type ClientHandshaker struct{}

func (ClientHandshaker) Handshake(reader io.Reader, writer WriteFlusher) error {
	c1, err := sendC0C1(writer)
	if err != nil {
		return err
	}
	s1, s2, err := readS0S1S2(reader)
	if err != nil {
		return err
	}
	if !bytes.Equal(c1, s2) {
		return ErrHandshakeMismatch
	}
	return sendC2(writer, s1)
}

// readC0C1 returns the C1 random data (C0, the version byte, is validated and discarded).
func readC0C1(reader io.Reader) ([]byte, error) {
	var c0c1 [1 + handshakeRandomSize]byte
	if _, err := io.ReadFull(reader, c0c1[:]); err != nil {
		return nil, err
	}
	if c0c1[0] != RtmpVersion3 {
		return nil, ErrUnsupportedRTMPVersion
	}
	return c0c1[1:], nil
}

func readC2(reader io.Reader) ([]byte, error) {
	var c2 [handshakeRandomSize]byte
	if _, err := io.ReadFull(reader, c2[:]); err != nil {
		return nil, err
	}
	return c2[:], nil
}

// sendS0S1S2 sends the full server sequence and returns the generated S1 so
// the caller can verify the peer's C2 echo.
func sendS0S1S2(writer WriteFlusher, c1 []byte) ([]byte, error) {
	var s0s1s2 [1 + 2*handshakeRandomSize]byte
	s0s1s2[0] = RtmpVersion3
	if err := fillHandshakeData(s0s1s2[1 : 1+handshakeRandomSize]); err != nil {
		return nil, err
	}
	copy(s0s1s2[1+handshakeRandomSize:], c1)
	if err := send(writer, s0s1s2[:]); err != nil {
		return nil, err
	}
	return s0s1s2[1 : 1+handshakeRandomSize], nil
}

// sendC0C1 returns the C1 message that was sent.
func sendC0C1(writer WriteFlusher) ([]byte, error) {
	var c0c1 [1 + handshakeRandomSize]byte
	c0c1[0] = RtmpVersion3
	if err := fillHandshakeData(c0c1[1:]); err != nil {
		return nil, err
	}
	if err := send(writer, c0c1[:]); err != nil {
		return nil, err
	}
	return c0c1[1:], nil
}

func readS0S1S2(reader io.Reader) (s1, s2 []byte, err error) {
	var s0s1s2 [1 + 2*handshakeRandomSize]byte
	if _, err := io.ReadFull(reader, s0s1s2[:]); err != nil {
		return nil, nil, err
	}
	if s0s1s2[0] != RtmpVersion3 {
		return nil, nil, ErrUnsupportedRTMPVersion
	}
	return s0s1s2[1 : 1+handshakeRandomSize], s0s1s2[1+handshakeRandomSize:], nil
}

func sendC2(writer WriteFlusher, s1 []byte) error {
	var c2 [handshakeRandomSize]byte
	copy(c2[:], s1)
	return send(writer, c2[:])
}

// fillHandshakeData fills b with random data, leaving the first 8 bytes (the
// time and zero fields) untouched at zero.
func fillHandshakeData(b []byte) error {
	return rand.Fill(b[8:])
}

func send(writer WriteFlusher, b []byte) error {
	if _, err := writer.Write(b); err != nil {
		return err
	}
	return writer.Flush()
}
