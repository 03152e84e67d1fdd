package rtmp

import (
	"bufio"
	"io"
)

// WriteFlusher is the minimal outbound surface the handshake needs.
type WriteFlusher interface {
	io.Writer
	Flush() error
}

// Writer wraps a connection's bufio.Writer.
type Writer struct {
	writer *bufio.Writer
}

func NewWriter(writer *bufio.Writer) *Writer {
	return &Writer{writer: writer}
}

func (w *Writer) Write(p []byte) (n int, err error) {
	return w.writer.Write(p)
}

func (w *Writer) WriteByte(b byte) error {
	return w.writer.WriteByte(b)
}

// Flush writes any buffered data to the underlying connection.
func (w *Writer) Flush() error {
	return w.writer.Flush()
}
