package rtmp

import (
	"encoding/binary"
	"sync"

	"github.com/pksorensen/video-streaming-portal-sub001/internal/binary24"
)

// Chunk types (the FMT field of the basic header).
const (
	ChunkType0 uint8 = 0
	ChunkType1 uint8 = 1
	ChunkType2 uint8 = 2
	ChunkType3 uint8 = 3
)

const (
	// Only the protocol channel is fixed by RTMP itself (csid = 2); the others
	// are our own convention so the same kind of data always travels on the
	// same chunk stream id.
	ProtocolChannel uint8 = 2
	AudioChannel    uint8 = 4
	VideoChannel    uint8 = 7
)

// DefaultReadChunkSize is the chunk size in effect before any Set Chunk Size
// message is received.
const DefaultReadChunkSize = 128

const (
	LimitHard    uint8 = 0
	LimitSoft    uint8 = 1
	LimitDynamic uint8 = 2
)

// minChunkStreamID is the lowest id usable for application data; ids 0 and 1
// select the longer basic-header forms and id 2 is the protocol channel.
const minChunkStreamID = 2

type ChunkHeader struct {
	BasicHeader       *ChunkBasicHeader
	MessageHeader     *ChunkMessageHeader
	ExtendedTimestamp uint32
	// ElapsedTime is the absolute message timestamp: the last type 0 timestamp
	// plus any deltas accumulated on the same chunk stream since.
	ElapsedTime uint32
}

type ChunkBasicHeader struct {
	// FMT is the chunk type.
	FMT           uint8
	ChunkStreamID uint32
}

type ChunkMessageHeader struct {
	// Timestamp holds the absolute timestamp for type 0 chunks and the
	// timestamp delta for the compressed header types.
	Timestamp       uint32
	MessageLength   uint32
	MessageTypeID   uint8
	MessageStreamID uint32
}

// ChunkHandler decodes the chunked message framing into complete application
// messages and encodes outbound messages back into chunks. It keeps the
// per-chunk-stream header cache required because compressed headers (types
// 1-3) inherit fields from the previous message on the same chunk stream id.
// A failed read leaves the handler unusable; the owning connection must be
// closed and no partial message is ever handed downstream.
type ChunkHandler struct {
	reader *Reader
	writer *Writer

	// prevChunkHeader maps a chunk stream id to the last header seen on it.
	prevChunkHeader map[uint32]ChunkHeader
	inChunkSize     uint32
	outChunkSize    uint32
	maxMessageSize  uint32
	windowAckSize   uint32
	lastAcked       uint64
	ackSent         bool

	// wmu serializes writers: a playing session receives fan-out frames on its
	// delivery goroutine while command replies go out on the read-loop goroutine.
	wmu sync.Mutex
}

func NewChunkHandler(reader *Reader, writer *Writer, maxMessageSize uint32) *ChunkHandler {
	return &ChunkHandler{
		reader:          reader,
		writer:          writer,
		prevChunkHeader: make(map[uint32]ChunkHeader),
		inChunkSize:     DefaultReadChunkSize,
		outChunkSize:    DefaultReadChunkSize,
		maxMessageSize:  maxMessageSize,
	}
}

// ReadChunkHeader reads one complete chunk header (basic header, message
// header and extended timestamp if present) and updates the header cache.
func (ch *ChunkHandler) ReadChunkHeader() (ChunkHeader, error) {
	header := ChunkHeader{}
	if err := ch.readBasicHeader(&header); err != nil {
		return header, err
	}
	if err := ch.readMessageHeader(&header); err != nil {
		return header, err
	}

	// A 24-bit timestamp of 0xFFFFFF signals that the real value follows in a
	// 4-byte extended timestamp field.
	isExtendedTimestamp := header.MessageHeader.Timestamp == 0xFFFFFF
	if isExtendedTimestamp {
		if err := ch.readExtendedTimestamp(&header); err != nil {
			return header, err
		}
	}

	csid := header.BasicHeader.ChunkStreamID

	// Type 0 carries an absolute timestamp; every other type carries a delta
	// relative to the previous message on the same chunk stream.
	if header.BasicHeader.FMT == ChunkType0 {
		if isExtendedTimestamp {
			header.ElapsedTime = header.ExtendedTimestamp
		} else {
			header.ElapsedTime = header.MessageHeader.Timestamp
		}
	} else {
		// Overflow wraps around, matching the 32-bit timestamp arithmetic of the protocol.
		if isExtendedTimestamp {
			header.ElapsedTime = ch.prevChunkHeader[csid].ElapsedTime + header.ExtendedTimestamp
		} else {
			header.ElapsedTime = ch.prevChunkHeader[csid].ElapsedTime + header.MessageHeader.Timestamp
		}
	}

	ch.prevChunkHeader[csid] = header
	return header, nil
}

func (ch *ChunkHandler) readBasicHeader(header *ChunkHeader) error {
	b, err := ch.reader.ReadByte()
	if err != nil {
		return err
	}

	basicHeader := &ChunkBasicHeader{}
	// The 2 high bits hold the chunk type, the low 6 bits the chunk stream id.
	basicHeader.FMT = b >> 6
	csid := b & 0x3F

	switch csid {
	case 0:
		// 2-byte form: ids 64-319 (second byte + 64).
		id, err := ch.reader.ReadByte()
		if err != nil {
			return err
		}
		basicHeader.ChunkStreamID = uint32(id) + 64
	case 1:
		// 3-byte form: ids 64-65599 (big-endian 16 bits + 64).
		id := make([]byte, 2)
		if _, err := ch.reader.Read(id); err != nil {
			return err
		}
		basicHeader.ChunkStreamID = uint32(binary.BigEndian.Uint16(id)) + 64
	default:
		basicHeader.ChunkStreamID = uint32(csid)
	}

	header.BasicHeader = basicHeader
	return nil
}

func (ch *ChunkHandler) readMessageHeader(header *ChunkHeader) error {
	csid := header.BasicHeader.ChunkStreamID
	prev, prevChunkExists := ch.prevChunkHeader[csid]
	mh := &ChunkMessageHeader{}

	switch header.BasicHeader.FMT {
	case ChunkType0:
		// 11 bytes: timestamp (3), message length (3), type id (1), stream id (4, little endian).
		buf := make([]byte, 11)
		if _, err := ch.reader.Read(buf); err != nil {
			return err
		}
		mh.Timestamp = binary24.BigEndian.Uint24(buf[:3])
		mh.MessageLength = binary24.BigEndian.Uint24(buf[3:6])
		mh.MessageTypeID = buf[6]
		mh.MessageStreamID = binary.LittleEndian.Uint32(buf[7:])

	case ChunkType1:
		// 7 bytes: timestamp delta (3), message length (3), type id (1).
		// The message stream id is inherited from the previous message.
		if !prevChunkExists {
			return ErrNoPreviousChunk
		}
		buf := make([]byte, 7)
		if _, err := ch.reader.Read(buf); err != nil {
			return err
		}
		mh.Timestamp = binary24.BigEndian.Uint24(buf[:3])
		mh.MessageLength = binary24.BigEndian.Uint24(buf[3:6])
		mh.MessageTypeID = buf[6]
		mh.MessageStreamID = prev.MessageHeader.MessageStreamID

	case ChunkType2:
		// 3 bytes: timestamp delta. Everything else is inherited.
		if !prevChunkExists {
			return ErrNoPreviousChunk
		}
		buf := make([]byte, 3)
		if _, err := ch.reader.Read(buf); err != nil {
			return err
		}
		mh.Timestamp = binary24.BigEndian.Uint24(buf)
		mh.MessageLength = prev.MessageHeader.MessageLength
		mh.MessageTypeID = prev.MessageHeader.MessageTypeID
		mh.MessageStreamID = prev.MessageHeader.MessageStreamID

	case ChunkType3:
		// No message header at all; the previous header is reused in full.
		if !prevChunkExists {
			return ErrNoPreviousChunk
		}
		mh.Timestamp = prev.MessageHeader.Timestamp
		mh.MessageLength = prev.MessageHeader.MessageLength
		mh.MessageTypeID = prev.MessageHeader.MessageTypeID
		mh.MessageStreamID = prev.MessageHeader.MessageStreamID

	default:
		return ErrUnknownChunkType
	}

	header.MessageHeader = mh
	return nil
}

func (ch *ChunkHandler) readExtendedTimestamp(header *ChunkHeader) error {
	buf := make([]byte, 4)
	if _, err := ch.reader.Read(buf); err != nil {
		return err
	}
	header.ExtendedTimestamp = binary.BigEndian.Uint32(buf)
	return nil
}

// ReadChunkData reads the payload declared by header, reassembling the message
// from continuation chunks when it exceeds the current read chunk size.
func (ch *ChunkHandler) ReadChunkData(header ChunkHeader) ([]byte, error) {
	messageLength := header.MessageHeader.MessageLength
	if ch.maxMessageSize > 0 && messageLength > ch.maxMessageSize {
		return nil, ErrMessageTooLarge
	}

	if messageLength > ch.inChunkSize {
		return ch.assembleMessage(messageLength)
	}

	payload := make([]byte, messageLength)
	if _, err := ch.reader.Read(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// assembleMessage reads a message whose length exceeds the chunk size: the
// first chunk's worth of payload, then alternating continuation headers and
// payload slices until the declared length is complete.
func (ch *ChunkHandler) assembleMessage(messageLength uint32) ([]byte, error) {
	payload := make([]byte, messageLength)
	if _, err := ch.reader.Read(payload[:ch.inChunkSize]); err != nil {
		return nil, err
	}
	offset := ch.inChunkSize

	for offset < messageLength {
		if _, err := ch.ReadChunkHeader(); err != nil {
			return nil, err
		}
		next := ch.inChunkSize
		if remaining := messageLength - offset; remaining < next {
			next = remaining
		}
		if _, err := ch.reader.Read(payload[offset : offset+next]); err != nil {
			return nil, err
		}
		offset += next
	}
	return payload, nil
}

// maybeSendAck sends an Acknowledgement once the bytes received since the last
// ack cross the negotiated window size.
func (ch *ChunkHandler) maybeSendAck() error {
	if ch.windowAckSize == 0 {
		return nil
	}
	if ch.reader.BytesRead()-ch.lastAcked >= uint64(ch.windowAckSize) {
		return ch.sendAck()
	}
	return nil
}

func (ch *ChunkHandler) sendAck() error {
	ch.lastAcked = ch.reader.BytesRead()
	ch.ackSent = true
	return ch.sendBytes(generateAckMessage(uint32(ch.lastAcked)))
}

func (ch *ChunkHandler) sendWindowAckSize(size uint32) error {
	return ch.sendBytes(generateWindowAckSizeMessage(size))
}

func (ch *ChunkHandler) sendSetPeerBandWidth(size uint32, limit uint8) error {
	return ch.sendBytes(generateSetPeerBandwidthMessage(size, limit))
}

func (ch *ChunkHandler) sendBeginStream(streamID uint32) error {
	return ch.sendBytes(generateStreamBeginMessage(streamID))
}

func (ch *ChunkHandler) sendSetChunkSize(size uint32) error {
	if err := ch.sendBytes(generateSetChunkSizeMessage(size)); err != nil {
		return err
	}
	ch.outChunkSize = size
	return nil
}

func (ch *ChunkHandler) sendConnectSuccess(csID uint32) error {
	return ch.sendBytes(generateConnectResponseSuccess(csID))
}

func (ch *ChunkHandler) sendPingRequest(timestamp uint32) error {
	return ch.sendBytes(generatePingRequestMessage(timestamp))
}

func (ch *ChunkHandler) sendPingResponse(timestamp uint32) error {
	return ch.sendBytes(generatePingResponseMessage(timestamp))
}

// SetChunkSize records the chunk size announced by the peer for inbound data.
func (ch *ChunkHandler) SetChunkSize(size uint32) {
	ch.inChunkSize = size
}

// SetWindowAckSize records the peer's acknowledgement window. If no ack has
// been sent yet this session, one is sent immediately.
func (ch *ChunkHandler) SetWindowAckSize(size uint32) {
	if !ch.ackSent {
		_ = ch.sendAck()
	}
	ch.windowAckSize = size
}

// send writes a pre-built message header followed by its payload, splitting
// the payload into chunks of the negotiated outbound chunk size with type 3
// continuation headers in between.
func (ch *ChunkHandler) send(header []byte, payload []byte) error {
	ch.wmu.Lock()
	defer ch.wmu.Unlock()

	if _, err := ch.writer.Write(header); err != nil {
		return err
	}

	chunkSize := int(ch.outChunkSize)
	if len(payload) <= chunkSize {
		if _, err := ch.writer.Write(payload); err != nil {
			return err
		}
		return ch.writer.Flush()
	}

	// Continuation chunks reuse the original chunk stream id with fmt = 3.
	continuation := (ChunkType3 << 6) | (header[0] & 0x3F)
	for written := 0; written < len(payload); {
		if written > 0 {
			if err := ch.writer.WriteByte(continuation); err != nil {
				return err
			}
		}
		end := written + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if _, err := ch.writer.Write(payload[written:end]); err != nil {
			return err
		}
		written = end
	}
	return ch.writer.Flush()
}

func (ch *ChunkHandler) sendBytes(b []byte) error {
	ch.wmu.Lock()
	defer ch.wmu.Unlock()
	if _, err := ch.writer.Write(b); err != nil {
		return err
	}
	return ch.writer.Flush()
}
