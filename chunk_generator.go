package rtmp

import (
	"encoding/binary"

	"github.com/pksorensen/video-streaming-portal-sub001/amf/amf0"
	"github.com/pksorensen/video-streaming-portal-sub001/config"
	"github.com/pksorensen/video-streaming-portal-sub001/internal/binary24"
)

const NetConnectionSuccess = "NetConnection.Connect.Success"

// protocolMessage builds a complete protocol control message: a 12-byte type 0
// header on the protocol channel (csid 2, message stream 0, timestamp 0)
// followed by the body.
func protocolMessage(messageTypeID uint8, body []byte) []byte {
	msg := make([]byte, 12, 12+len(body))
	msg[0] = ProtocolChannel
	binary24.BigEndian.PutUint24(msg[4:7], uint32(len(body)))
	msg[7] = messageTypeID
	return append(msg, body...)
}

// commandMessage builds an AMF0 command message from pre-encoded fields.
// csid is encoded as-is into the basic header, so it must be < 64.
func commandMessage(csID uint32, streamID uint32, fields ...[]byte) []byte {
	bodyLength := 0
	for _, f := range fields {
		bodyLength += len(f)
	}
	msg := make([]byte, 12, 12+bodyLength)
	msg[0] = byte(csID)
	binary24.BigEndian.PutUint24(msg[4:7], uint32(bodyLength))
	msg[7] = CommandMessageAMF0
	// The message stream id travels in little endian, unlike every other field.
	binary.LittleEndian.PutUint32(msg[8:], streamID)
	for _, f := range fields {
		msg = append(msg, f...)
	}
	return msg
}

func generateWindowAckSizeMessage(size uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, size)
	return protocolMessage(WindowAckSize, body)
}

func generateAckMessage(sequenceNumber uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, sequenceNumber)
	return protocolMessage(Ack, body)
}

func generateSetChunkSizeMessage(chunkSize uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, chunkSize)
	return protocolMessage(SetChunkSize, body)
}

func generateSetPeerBandwidthMessage(size uint32, limitType uint8) []byte {
	body := make([]byte, 5)
	binary.BigEndian.PutUint32(body, size)
	body[4] = limitType
	return protocolMessage(SetPeerBandwidth, body)
}

func generateStreamBeginMessage(streamID uint32) []byte {
	body := make([]byte, 6)
	binary.BigEndian.PutUint16(body, StreamBegin)
	binary.BigEndian.PutUint32(body[2:], streamID)
	return protocolMessage(UserControlMessage, body)
}

func generatePingRequestMessage(timestamp uint32) []byte {
	body := make([]byte, 6)
	binary.BigEndian.PutUint16(body, PingRequest)
	binary.BigEndian.PutUint32(body[2:], timestamp)
	return protocolMessage(UserControlMessage, body)
}

func generatePingResponseMessage(timestamp uint32) []byte {
	body := make([]byte, 6)
	binary.BigEndian.PutUint16(body, PingResponse)
	binary.BigEndian.PutUint32(body[2:], timestamp)
	return protocolMessage(UserControlMessage, body)
}

func generateConnectResponseSuccess(csID uint32) []byte {
	commandName, _ := amf0.Encode("_result")
	// Transaction ID is always 1 for connect responses.
	transactionID, _ := amf0.Encode(1)
	properties, _ := amf0.Encode(map[string]interface{}{
		"fmsVer":       config.FlashMediaServerVersion,
		"capabilities": config.Capabilities,
		"mode":         config.Mode,
	})
	information, _ := amf0.Encode(map[string]interface{}{
		"code":        NetConnectionSuccess,
		"level":       "status",
		"description": "Connection accepted.",
		"data": map[string]interface{}{
			"string": "3,5,7,7009",
		},
		"objectEncoding": 0,
	})
	return commandMessage(csID, 0, commandName, transactionID, properties, information)
}

func generateConnectResponseError(csID uint32, description string) []byte {
	commandName, _ := amf0.Encode("_error")
	transactionID, _ := amf0.Encode(1)
	properties, _ := amf0.Encode(nil)
	information, _ := amf0.Encode(map[string]interface{}{
		"code":        "NetConnection.Connect.Rejected",
		"level":       "error",
		"description": description,
	})
	return commandMessage(csID, 0, commandName, transactionID, properties, information)
}

func generateCreateStreamResponse(csID uint32, transactionID float64) []byte {
	result, _ := amf0.Encode("_result")
	tID, _ := amf0.Encode(transactionID)
	commandObject, _ := amf0.Encode(nil)
	// The id the client must use on subsequent publish/play messages.
	streamID, _ := amf0.Encode(config.DefaultStreamID)
	return commandMessage(csID, 0, result, tID, commandObject, streamID)
}

func generateOnFCPublishMessage(csID uint32, streamKey string) []byte {
	commandName, _ := amf0.Encode("onFCPublish")
	tID, _ := amf0.Encode(0)
	commandObject, _ := amf0.Encode(nil)
	information, _ := amf0.Encode(map[string]interface{}{
		"level":       "status",
		"code":        "NetStream.Publish.Start",
		"description": "FCPublish to stream " + streamKey,
	})
	return commandMessage(csID, 0, commandName, tID, commandObject, information)
}

// generateStatusMessage builds a NetStream onStatus command on the stream the
// request arrived on.
func generateStatusMessage(transactionID float64, streamID uint32, infoObject map[string]interface{}) []byte {
	commandName, _ := amf0.Encode("onStatus")
	tID, _ := amf0.Encode(transactionID)
	// Status messages carry no command object.
	commandObject, _ := amf0.Encode(nil)
	info, _ := amf0.Encode(infoObject)
	return commandMessage(3, streamID, commandName, tID, commandObject, info)
}

func generateConnectRequest(csID uint32, transactionID int, info map[string]interface{}) []byte {
	connect, _ := amf0.Encode("connect")
	tID, _ := amf0.Encode(transactionID)
	cmdObj, _ := amf0.Encode(info)
	return commandMessage(csID, 0, connect, tID, cmdObj)
}

func generateCreateStreamRequest(transactionID int) []byte {
	createStream, _ := amf0.Encode("createStream")
	tID, _ := amf0.Encode(transactionID)
	cmdObj, _ := amf0.Encode(nil)
	return commandMessage(3, 0, createStream, tID, cmdObj)
}

func generatePlayRequest(streamKey string, streamID uint32) []byte {
	play, _ := amf0.Encode("play")
	tID, _ := amf0.Encode(0)
	cmdObj, _ := amf0.Encode(nil)
	streamName, _ := amf0.Encode(streamKey)
	// -2000 asks for a live stream, falling back to recorded if one exists.
	start, _ := amf0.Encode(-2000)
	return commandMessage(3, streamID, play, tID, cmdObj, streamName, start)
}

func generatePublishRequest(streamKey string, streamID uint32) []byte {
	publish, _ := amf0.Encode("publish")
	tID, _ := amf0.Encode(0)
	cmdObj, _ := amf0.Encode(nil)
	streamName, _ := amf0.Encode(streamKey)
	publishingType, _ := amf0.Encode("live")
	return commandMessage(3, streamID, publish, tID, cmdObj, streamName, publishingType)
}

func generateMetadataMessage(metadata map[string]interface{}, streamID uint32) []byte {
	setDataFrame, _ := amf0.Encode("@setDataFrame")
	onMetadata, _ := amf0.Encode("onMetadata")
	metadataObj, _ := amf0.Encode(amf0.ECMAArray(metadata))
	bodyLength := len(setDataFrame) + len(onMetadata) + len(metadataObj)

	msg := make([]byte, 12, 12+bodyLength)
	msg[0] = AudioChannel
	binary24.BigEndian.PutUint24(msg[4:7], uint32(bodyLength))
	msg[7] = DataMessageAMF0
	binary.LittleEndian.PutUint32(msg[8:], streamID)
	msg = append(msg, setDataFrame...)
	msg = append(msg, onMetadata...)
	return append(msg, metadataObj...)
}

// generateDataMessageRtmpSampleAccess tells the player it may access raw
// audio/video samples. Sent once, right after the play response.
func generateDataMessageRtmpSampleAccess(audioAccess bool, videoAccess bool, streamID uint32) []byte {
	name, _ := amf0.Encode("|RtmpSampleAccess")
	audioFlag, _ := amf0.Encode(audioAccess)
	videoFlag, _ := amf0.Encode(videoAccess)
	bodyLength := len(name) + len(audioFlag) + len(videoFlag)

	msg := make([]byte, 12, 12+bodyLength)
	msg[0] = 5
	binary24.BigEndian.PutUint24(msg[4:7], uint32(bodyLength))
	msg[7] = DataMessageAMF0
	binary.LittleEndian.PutUint32(msg[8:], streamID)
	msg = append(msg, name...)
	msg = append(msg, audioFlag...)
	return append(msg, videoFlag...)
}

// generateMediaHeader builds the type 0 chunk header that precedes an audio or
// video payload sent to a player. The payload itself is chunked by send.
// Timestamps that no longer fit in 24 bits move to the extended timestamp
// field, growing the header to 16 bytes.
func generateMediaHeader(csID uint8, messageTypeID uint8, timestamp uint32, dataLength uint32, streamID uint32) []byte {
	if timestamp >= 0xFFFFFF {
		header := make([]byte, 16)
		header[0] = csID
		binary24.BigEndian.PutUint24(header[1:4], 0xFFFFFF)
		binary24.BigEndian.PutUint24(header[4:7], dataLength)
		header[7] = messageTypeID
		binary.LittleEndian.PutUint32(header[8:], streamID)
		binary.BigEndian.PutUint32(header[12:], timestamp)
		return header
	}
	header := make([]byte, 12)
	header[0] = csID
	binary24.BigEndian.PutUint24(header[1:4], timestamp)
	binary24.BigEndian.PutUint24(header[4:7], dataLength)
	header[7] = messageTypeID
	binary.LittleEndian.PutUint32(header[8:], streamID)
	return header
}
