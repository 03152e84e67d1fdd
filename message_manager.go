package rtmp

import (
	"encoding/binary"

	"github.com/pksorensen/video-streaming-portal-sub001/amf/amf0"
	"github.com/pksorensen/video-streaming-portal-sub001/audio"
	"github.com/pksorensen/video-streaming-portal-sub001/video"
)

// Protocol control message types. These always travel on chunk stream 2 with
// message stream 0.
const (
	SetChunkSize     = 1
	AbortMessage     = 2
	Ack              = 3
	WindowAckSize    = 5
	SetPeerBandwidth = 6

	UserControlMessage = 4
)

// Message types.
const (
	CommandMessageAMF0 = 20
	CommandMessageAMF3 = 17

	DataMessageAMF0 = 18
	DataMessageAMF3 = 15

	SharedObjectMessageAMF0 = 19
	SharedObjectMessageAMF3 = 16

	AudioMessage     = 8
	VideoMessage     = 9
	AggregateMessage = 22
)

// User control message event types.
const (
	StreamBegin  uint16 = 0
	StreamEOF    uint16 = 1
	PingRequest  uint16 = 6
	PingResponse uint16 = 7
)

// MessageManager reads complete messages off a ChunkHandler, decodes their
// bodies (AMF0 commands, control messages, media headers) and dispatches them
// to the session through the MediaServer callbacks. It also owns the reverse
// direction: serializing session replies and media back into messages.
type MessageManager struct {
	session      MediaServer
	chunkHandler *ChunkHandler
	streamID     uint32
}

func NewMessageManager(session MediaServer, chunkHandler *ChunkHandler) *MessageManager {
	return &MessageManager{
		session:      session,
		chunkHandler: chunkHandler,
		streamID:     1,
	}
}

// nextMessage reads and dispatches exactly one message. A nil error means the
// message was consumed, not that the command inside it succeeded; protocol
// violations surface as ProtocolError.
func (m *MessageManager) nextMessage() error {
	chunkHeader, err := m.chunkHandler.ReadChunkHeader()
	if err != nil {
		return err
	}

	payload, err := m.chunkHandler.ReadChunkData(chunkHeader)
	if err != nil {
		return err
	}

	if err := m.chunkHandler.maybeSendAck(); err != nil {
		return err
	}

	return m.interpretMessage(chunkHeader, payload)
}

func (m *MessageManager) interpretMessage(header ChunkHeader, payload []byte) error {
	switch header.MessageHeader.MessageTypeID {
	case SetChunkSize, AbortMessage, Ack, WindowAckSize, SetPeerBandwidth:
		return m.handleControlMessage(&header, payload)
	case UserControlMessage:
		if len(payload) < 2 {
			return NewProtocolError("user control message shorter than its event type field")
		}
		eventType := binary.BigEndian.Uint16(payload[:2])
		return m.handleUserControlMessage(eventType, payload[2:])
	case CommandMessageAMF0, CommandMessageAMF3:
		return m.handleCommandMessage(header.BasicHeader.ChunkStreamID, header.MessageHeader.MessageStreamID, header.MessageHeader.MessageTypeID, payload)
	case DataMessageAMF0, DataMessageAMF3:
		return m.handleDataMessage(header.MessageHeader.MessageTypeID, payload)
	case AudioMessage:
		return m.handleAudioMessage(payload, header.ElapsedTime)
	case VideoMessage:
		return m.handleVideoMessage(payload, header.ElapsedTime)
	default:
		return NewProtocolErrorf("unknown message type id %d", header.MessageHeader.MessageTypeID)
	}
}

func (m *MessageManager) handleControlMessage(header *ChunkHeader, payload []byte) error {
	if len(payload) < 4 {
		return NewProtocolError("control message body shorter than 4 bytes")
	}
	switch header.MessageHeader.MessageTypeID {
	case SetChunkSize:
		// Affects how the chunk handler reassembles subsequent inbound messages.
		m.session.onSetChunkSize(binary.BigEndian.Uint32(payload))
		return nil
	case AbortMessage:
		m.session.onAbortMessage(binary.BigEndian.Uint32(payload))
		return nil
	case Ack:
		m.session.onAck(binary.BigEndian.Uint32(payload))
		return nil
	case WindowAckSize:
		m.session.onSetWindowAckSize(binary.BigEndian.Uint32(payload[:4]))
		return nil
	case SetPeerBandwidth:
		if len(payload) < 5 {
			return NewProtocolError("set peer bandwidth message shorter than 5 bytes")
		}
		m.session.onSetBandwidth(binary.BigEndian.Uint32(payload[:4]), payload[4])
		return nil
	default:
		return NewProtocolErrorf("unsupported control message type id %d", header.MessageHeader.MessageTypeID)
	}
}

func (m *MessageManager) handleUserControlMessage(eventType uint16, payload []byte) error {
	switch eventType {
	case StreamBegin:
		if len(payload) < 4 {
			return NewProtocolError("stream begin event shorter than 4 bytes")
		}
		streamID := binary.BigEndian.Uint32(payload)
		m.streamID = streamID
		m.session.onStreamBegin(streamID)
		return nil
	case PingRequest:
		if len(payload) < 4 {
			return NewProtocolError("ping request event shorter than 4 bytes")
		}
		return m.session.onPingRequest(binary.BigEndian.Uint32(payload))
	case PingResponse:
		if len(payload) < 4 {
			return NewProtocolError("ping response event shorter than 4 bytes")
		}
		m.session.onPingResponse(binary.BigEndian.Uint32(payload))
		return nil
	default:
		// Events we don't act on (SetBufferLength and friends) are legal; drop them.
		return nil
	}
}

func (m *MessageManager) handleCommandMessage(csID uint32, streamID uint32, commandType uint8, payload []byte) error {
	switch commandType {
	case CommandMessageAMF0:
		// The command name is always the first field of the body.
		name, err := amf0.Decode(payload)
		if err != nil {
			return NewProtocolError("command message body is not valid AMF0")
		}
		commandName, ok := name.(string)
		if !ok {
			return NewProtocolError("command message does not start with a command name")
		}
		return m.handleCommandAmf0(csID, streamID, commandName, payload[amf0.Size(commandName):])
	case CommandMessageAMF3:
		return NewProtocolError("AMF3 command messages are not supported")
	default:
		return NewProtocolErrorf("command message has unknown encoding %d", commandType)
	}
}

func (m *MessageManager) handleCommandAmf0(csID uint32, streamID uint32, commandName string, payload []byte) error {
	// Every command carries a transaction id followed by a command object,
	// either of which decodes to nil for some commands.
	tID, err := amf0.Decode(payload)
	if err != nil {
		return NewProtocolErrorf("command %q has no transaction id", commandName)
	}
	transactionID, ok := tID.(float64)
	if !ok {
		return NewProtocolErrorf("command %q transaction id is not a number", commandName)
	}
	payload = payload[amf0.Size(tID):]

	cmdObject, err := amf0.Decode(payload)
	if err != nil {
		return NewProtocolErrorf("command %q has no command object", commandName)
	}
	var commandObject map[string]interface{}
	switch obj := cmdObject.(type) {
	case nil:
	case map[string]interface{}:
		commandObject = obj
	case amf0.ECMAArray:
		commandObject = obj
	}
	payload = payload[amf0.Size(cmdObject):]

	nextString := func() (string, error) {
		v, err := amf0.Decode(payload)
		if err != nil {
			return "", NewProtocolErrorf("command %q is missing a string argument", commandName)
		}
		s, ok := v.(string)
		if !ok {
			return "", NewProtocolErrorf("command %q argument is not a string", commandName)
		}
		payload = payload[amf0.Size(v):]
		return s, nil
	}
	nextNumber := func() (float64, error) {
		v, err := amf0.Decode(payload)
		if err != nil {
			return 0, NewProtocolErrorf("command %q is missing a numeric argument", commandName)
		}
		n, ok := v.(float64)
		if !ok {
			return 0, NewProtocolErrorf("command %q argument is not a number", commandName)
		}
		payload = payload[amf0.Size(v):]
		return n, nil
	}

	switch commandName {
	case "connect":
		return m.session.onConnect(csID, transactionID, commandObject)
	case "releaseStream":
		streamKey, err := nextString()
		if err != nil {
			return err
		}
		return m.session.onReleaseStream(csID, transactionID, commandObject, streamKey)
	case "FCPublish":
		streamKey, err := nextString()
		if err != nil {
			return err
		}
		return m.session.onFCPublish(csID, transactionID, commandObject, streamKey)
	case "createStream":
		return m.session.onCreateStream(csID, transactionID, commandObject)
	case "publish":
		streamKey, err := nextString()
		if err != nil {
			return err
		}
		// "live", "record" or "append"; only live publishing is supported.
		publishingType, err := nextString()
		if err != nil {
			return err
		}
		return m.session.onPublish(transactionID, commandObject, streamKey, publishingType)
	case "play":
		streamKey, err := nextString()
		if err != nil {
			return err
		}
		// RTMP also defines duration and reset arguments after the start
		// time, but common players omit them.
		startTime := float64(-2000)
		if len(payload) > 0 {
			if startTime, err = nextNumber(); err != nil {
				return err
			}
		}
		return m.session.onPlay(streamKey, startTime)
	case "FCUnpublish":
		streamKey, err := nextString()
		if err != nil {
			return err
		}
		return m.session.onFCUnpublish(commandObject, streamKey)
	case "closeStream":
		return m.session.onCloseStream(csID, transactionID, commandObject)
	case "deleteStream":
		deletedID, err := nextNumber()
		if err != nil {
			return err
		}
		return m.session.onDeleteStream(commandObject, deletedID)
	case "_result":
		info, _ := amf0.Decode(payload)
		infoObject, _ := info.(map[string]interface{})
		return m.session.onResult(infoObject)
	case "onStatus":
		info, _ := amf0.Decode(payload)
		infoObject, _ := info.(map[string]interface{})
		return m.session.onStatus(infoObject)
	default:
		// Unknown commands are ignored rather than fatal; encoders send vendor
		// extensions freely.
		return nil
	}
}

func (m *MessageManager) handleDataMessage(dataType uint8, payload []byte) error {
	switch dataType {
	case DataMessageAMF0:
		name, err := amf0.Decode(payload)
		if err != nil {
			return NewProtocolError("data message body is not valid AMF0")
		}
		dataName, ok := name.(string)
		if !ok {
			return NewProtocolError("data message does not start with a name")
		}
		return m.handleDataMessageAmf0(dataName, payload[amf0.Size(dataName):])
	case DataMessageAMF3:
		return NewProtocolError("AMF3 data messages are not supported")
	default:
		return NewProtocolErrorf("data message has unknown encoding %d", dataType)
	}
}

func (m *MessageManager) handleDataMessageAmf0(dataName string, payload []byte) error {
	switch dataName {
	case "@setDataFrame":
		// The body is the string "onMetadata" followed by the metadata itself,
		// sent either as an ECMA array or a plain object depending on the encoder.
		onMetadata, err := amf0.Decode(payload)
		if err != nil {
			return NewProtocolError("@setDataFrame has no metadata name")
		}
		payload = payload[amf0.Size(onMetadata):]
		metadata, err := amf0.Decode(payload)
		if err != nil {
			return NewProtocolError("@setDataFrame has no metadata body")
		}
		switch md := metadata.(type) {
		case amf0.ECMAArray:
			return m.session.onMetadata(md)
		case map[string]interface{}:
			return m.session.onMetadata(md)
		}
		return nil
	default:
		return nil
	}
}

func (m *MessageManager) handleAudioMessage(payload []byte, timestamp uint32) error {
	if len(payload) == 0 {
		return NewProtocolError("empty audio message")
	}
	format, sampleRate, sampleSize, channels := audio.ParseHeader(payload[0])
	return m.session.onAudioMessage(format, sampleRate, sampleSize, channels, payload, timestamp)
}

func (m *MessageManager) handleVideoMessage(payload []byte, timestamp uint32) error {
	if len(payload) == 0 {
		return NewProtocolError("empty video message")
	}
	frameType, codec := video.ParseHeader(payload[0])
	return m.session.onVideoMessage(frameType, codec, payload, timestamp)
}

func (m *MessageManager) SetChunkSize(size uint32) {
	m.chunkHandler.SetChunkSize(size)
}

func (m *MessageManager) SetWindowAckSize(size uint32) {
	m.chunkHandler.SetWindowAckSize(size)
}

func (m *MessageManager) sendWindowAckSize(size uint32) error {
	return m.chunkHandler.sendWindowAckSize(size)
}

func (m *MessageManager) sendSetPeerBandWidth(size uint32, limitType uint8) error {
	return m.chunkHandler.sendSetPeerBandWidth(size, limitType)
}

func (m *MessageManager) sendBeginStream(streamID uint32) error {
	return m.chunkHandler.sendBeginStream(streamID)
}

func (m *MessageManager) sendSetChunkSize(size uint32) error {
	return m.chunkHandler.sendSetChunkSize(size)
}

func (m *MessageManager) sendConnectSuccess(csID uint32) error {
	return m.chunkHandler.sendConnectSuccess(csID)
}

func (m *MessageManager) sendConnectError(csID uint32, description string) error {
	return m.chunkHandler.sendBytes(generateConnectResponseError(csID, description))
}

func (m *MessageManager) sendPingRequest(timestamp uint32) error {
	return m.chunkHandler.sendPingRequest(timestamp)
}

func (m *MessageManager) sendPingResponse(timestamp uint32) error {
	return m.chunkHandler.sendPingResponse(timestamp)
}

func (m *MessageManager) sendAudio(payload []byte, timestamp uint32) error {
	header := generateMediaHeader(AudioChannel, AudioMessage, timestamp, uint32(len(payload)), m.streamID)
	return m.chunkHandler.send(header, payload)
}

func (m *MessageManager) sendVideo(payload []byte, timestamp uint32) error {
	header := generateMediaHeader(VideoChannel, VideoMessage, timestamp, uint32(len(payload)), m.streamID)
	return m.chunkHandler.send(header, payload)
}

func (m *MessageManager) sendMetadata(metadata map[string]interface{}) error {
	message := generateMetadataMessage(metadata, m.streamID)
	return m.chunkHandler.send(message[:12], message[12:])
}

func (m *MessageManager) sendStatusMessage(level string, code string, description string) error {
	infoObject := map[string]interface{}{
		"level":       level,
		"code":        code,
		"description": description,
	}
	return m.chunkHandler.sendBytes(generateStatusMessage(0, m.streamID, infoObject))
}

func (m *MessageManager) sendPlayStart(streamKey string) error {
	info := map[string]interface{}{
		"level":       "status",
		"code":        "NetStream.Play.Start",
		"description": "Playing stream " + streamKey,
	}
	return m.chunkHandler.sendBytes(generateStatusMessage(4, m.streamID, info))
}

func (m *MessageManager) sendRtmpSampleAccess(audioAccess bool, videoAccess bool) error {
	return m.chunkHandler.sendBytes(generateDataMessageRtmpSampleAccess(audioAccess, videoAccess, m.streamID))
}

func (m *MessageManager) sendOnFCPublish(csID uint32, streamKey string) error {
	return m.chunkHandler.sendBytes(generateOnFCPublishMessage(csID, streamKey))
}

func (m *MessageManager) sendCreateStreamResponse(csID uint32, transactionID float64) error {
	return m.chunkHandler.sendBytes(generateCreateStreamResponse(csID, transactionID))
}

func (m *MessageManager) requestConnect(info map[string]interface{}) error {
	message := generateConnectRequest(3, 1, info)
	return m.chunkHandler.send(message[:12], message[12:])
}

func (m *MessageManager) requestCreateStream(transactionID int) error {
	message := generateCreateStreamRequest(transactionID)
	return m.chunkHandler.send(message[:12], message[12:])
}

func (m *MessageManager) requestPlay(streamKey string) error {
	message := generatePlayRequest(streamKey, m.streamID)
	return m.chunkHandler.send(message[:12], message[12:])
}

func (m *MessageManager) requestPublish(streamKey string) error {
	message := generatePublishRequest(streamKey, m.streamID)
	return m.chunkHandler.send(message[:12], message[12:])
}
