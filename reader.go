package rtmp

import (
	"bufio"
	"io"
)

// Reader wraps a connection's bufio.Reader and counts every byte consumed.
// The count drives the acknowledgement window: the peer expects an Ack once
// the number of received bytes crosses the negotiated window size.
type Reader struct {
	reader *bufio.Reader
	n      uint64
}

func NewReader(reader *bufio.Reader) *Reader {
	return &Reader{reader: reader}
}

// Read reads exactly len(p) bytes into p. If an EOF happens after reading some
// but not all of the bytes, Read returns io.ErrUnexpectedEOF. On return,
// n == len(p) if and only if err == nil.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = io.ReadFull(r.reader, p)
	r.n += uint64(n)
	return n, err
}

// ReadByte reads and returns a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.reader.ReadByte()
	if err == nil {
		r.n++
	}
	return b, err
}

// BytesRead returns the total number of bytes consumed since the Reader was created.
func (r *Reader) BytesRead() uint64 {
	return r.n
}
