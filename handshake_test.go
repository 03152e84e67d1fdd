package rtmp

import (
	"bytes"
	"io"
	"net"
	"testing"
)

// flushWriter adapts a bytes.Buffer to the WriteFlusher the handshake expects.
type flushWriter struct {
	bytes.Buffer
}

func (f *flushWriter) Flush() error {
	return nil
}

// connFlusher adapts a net.Conn; writes go straight to the pipe.
type connFlusher struct {
	net.Conn
}

func (connFlusher) Flush() error {
	return nil
}

func TestHandshake_ServerAgainstClient(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- ServerHandshaker{}.Handshake(serverConn, connFlusher{serverConn})
	}()

	if err := (ClientHandshaker{}).Handshake(clientConn, connFlusher{clientConn}); err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("server handshake failed: %v", err)
	}
}

func TestServerHandshaker_UnsupportedVersion(t *testing.T) {
	data := make([]byte, 1+handshakeRandomSize)
	data[0] = 6 // only version 3 is supported

	err := ServerHandshaker{}.Handshake(bytes.NewReader(data), &flushWriter{})
	if err != ErrUnsupportedRTMPVersion {
		t.Errorf("got %v, want %v", err, ErrUnsupportedRTMPVersion)
	}
}

func TestServerHandshaker_C2Mismatch(t *testing.T) {
	// C0 + C1, then a C2 that does not echo the S1 the server will generate.
	data := make([]byte, 1+2*handshakeRandomSize)
	data[0] = RtmpVersion3

	err := ServerHandshaker{}.Handshake(bytes.NewReader(data), &flushWriter{})
	if err != ErrHandshakeMismatch {
		t.Errorf("got %v, want %v", err, ErrHandshakeMismatch)
	}
}

func TestServerHandshaker_ShortRead(t *testing.T) {
	data := make([]byte, 100)
	data[0] = RtmpVersion3

	err := ServerHandshaker{}.Handshake(bytes.NewReader(data), &flushWriter{})
	if err != io.ErrUnexpectedEOF {
		t.Errorf("got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestClientHandshaker_S2Mismatch(t *testing.T) {
	// A server response whose S2 does not echo the client's C1.
	data := make([]byte, 1+2*handshakeRandomSize)
	data[0] = RtmpVersion3

	err := ClientHandshaker{}.Handshake(bytes.NewReader(data), &flushWriter{})
	if err != ErrHandshakeMismatch {
		t.Errorf("got %v, want %v", err, ErrHandshakeMismatch)
	}
}

func TestServerHandshaker_EchoesC1(t *testing.T) {
	c1 := make([]byte, handshakeRandomSize)
	for i := range c1 {
		c1[i] = byte(i)
	}
	data := append([]byte{RtmpVersion3}, c1...)

	out := &flushWriter{}
	// The scripted input has no C2, so the handshake fails at that stage; the
	// S0+S1+S2 response is already written by then.
	err := ServerHandshaker{}.Handshake(bytes.NewReader(data), out)
	if err != io.EOF && err != io.ErrUnexpectedEOF {
		t.Fatalf("expected the handshake to fail reading C2, got %v", err)
	}

	response := out.Bytes()
	if len(response) != 1+2*handshakeRandomSize {
		t.Fatalf("got %d response bytes, want %d", len(response), 1+2*handshakeRandomSize)
	}
	if response[0] != RtmpVersion3 {
		t.Errorf("got version byte %v, want %v", response[0], RtmpVersion3)
	}
	if !bytes.Equal(response[1+handshakeRandomSize:], c1) {
		t.Errorf("expected S2 to echo C1")
	}
}
