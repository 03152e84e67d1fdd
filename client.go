package rtmp

import (
	"bufio"
	"net"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pksorensen/video-streaming-portal-sub001/audio"
	"github.com/pksorensen/video-streaming-portal-sub001/config"
	"github.com/pksorensen/video-streaming-portal-sub001/video"
)

type AudioCallback func(format audio.Format, sampleRate audio.SampleRate, sampleSize audio.SampleSize, channels audio.Channel, payload []byte, timestamp uint32)
type VideoCallback func(frameType video.FrameType, codec video.Codec, payload []byte, timestamp uint32)
type MetadataCallback func(metadata map[string]interface{})

var ErrInvalidScheme = errors.New("rtmp: invalid scheme in URL")

// Client pulls a stream from a remote RTMP server and hands the media to the
// registered callbacks. It runs the client half of the command sequence:
// connect, createStream, then play once the server opens the stream.
type Client struct {
	Logger     *zap.Logger
	OnAudio    AudioCallback
	OnVideo    VideoCallback
	OnMetadata MetadataCallback

	raddr     string
	app       string
	streamKey string

	conn           net.Conn
	messageManager *MessageManager
	handshaker     Handshaker
	active         atomic.Bool
}

// Connect dials addr (rtmp://host[:port]/app/streamKey), performs the
// handshake and command sequence, and blocks delivering media to the
// callbacks until the stream ends or Close is called.
func (c *Client) Connect(addr string) error {
	if err := c.parseURL(addr); err != nil {
		return err
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.handshaker == nil {
		c.handshaker = &ClientHandshaker{}
	}

	conn, err := net.Dial("tcp", c.raddr)
	if err != nil {
		return errors.Wrapf(err, "rtmp: dial %s", c.raddr)
	}
	c.conn = conn
	defer conn.Close()

	reader := NewReader(bufio.NewReaderSize(conn, config.BufioSize))
	writer := NewWriter(bufio.NewWriterSize(conn, config.BufioSize))
	chunkHandler := NewChunkHandler(reader, writer, config.DefaultMaxMessageSize)
	c.messageManager = NewMessageManager(c, chunkHandler)

	if err := c.handshaker.Handshake(conn, writer); err != nil {
		return err
	}
	c.Logger.Debug("client handshake completed", zap.String("remote", c.raddr))

	c.active.Store(true)
	if err := c.messageManager.sendSetChunkSize(config.DefaultChunkSize); err != nil {
		return err
	}
	info := map[string]interface{}{
		"app":           c.app,
		"flashVer":      "LNX 9,0,124,2",
		"tcUrl":         "rtmp://" + c.raddr + "/" + c.app,
		"fpad":          false,
		"capabilities":  15,
		"audioCodecs":   4071,
		"videoCodecs":   252,
		"videoFunction": 1,
	}
	if err := c.messageManager.requestConnect(info); err != nil {
		return err
	}

	for c.active.Load() {
		if err := c.messageManager.nextMessage(); err != nil {
			if !c.active.Load() {
				return nil
			}
			return err
		}
	}
	return nil
}

// Close stops the client; Connect returns after the current message.
func (c *Client) Close() error {
	c.active.Store(false)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) parseURL(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return errors.Wrap(err, "rtmp: parse url")
	}
	if u.Scheme != "" && u.Scheme != "rtmp" {
		return ErrInvalidScheme
	}
	if u.Port() == "" {
		u.Host += ":" + config.DefaultPort
	}
	c.raddr = u.Host

	path := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(path) < 2 || path[0] == "" {
		return errors.Errorf("rtmp: url path %q must be /app/streamKey", u.Path)
	}
	c.app = strings.Join(path[:len(path)-1], "/")
	c.streamKey = path[len(path)-1]
	return nil
}

func (c *Client) onResult(info map[string]interface{}) error {
	level, _ := info["level"].(string)
	code, _ := info["code"].(string)
	if level == "error" {
		c.Logger.Warn("server returned error result", zap.Any("info", info))
		c.active.Store(false)
		return nil
	}
	if code == NetConnectionSuccess {
		return c.messageManager.requestCreateStream(2)
	}
	return nil
}

// onStreamBegin fires once the server opens our stream; respond with play.
func (c *Client) onStreamBegin(streamID uint32) {
	_ = c.messageManager.requestPlay(c.streamKey)
}

func (c *Client) onStatus(info map[string]interface{}) error {
	level, _ := info["level"].(string)
	code, _ := info["code"].(string)
	if level == "error" {
		c.Logger.Warn("server returned error status", zap.String("code", code), zap.Any("info", info))
		c.active.Store(false)
		return nil
	}
	if code == "NetStream.Play.Stop" {
		c.Logger.Info("stream ended", zap.String("streamKey", c.streamKey))
		c.active.Store(false)
	}
	return nil
}

func (c *Client) onMetadata(metadata map[string]interface{}) error {
	if c.OnMetadata != nil {
		c.OnMetadata(metadata)
	}
	return nil
}

func (c *Client) onAudioMessage(format audio.Format, sampleRate audio.SampleRate, sampleSize audio.SampleSize, channels audio.Channel, payload []byte, timestamp uint32) error {
	if c.OnAudio != nil {
		c.OnAudio(format, sampleRate, sampleSize, channels, payload, timestamp)
	}
	return nil
}

func (c *Client) onVideoMessage(frameType video.FrameType, codec video.Codec, payload []byte, timestamp uint32) error {
	if c.OnVideo != nil {
		c.OnVideo(frameType, codec, payload, timestamp)
	}
	return nil
}

func (c *Client) onSetChunkSize(size uint32) {
	c.messageManager.SetChunkSize(size)
}

func (c *Client) onSetWindowAckSize(windowAckSize uint32) {
	c.messageManager.SetWindowAckSize(windowAckSize)
}

func (c *Client) onPingRequest(timestamp uint32) error {
	return c.messageManager.sendPingResponse(timestamp)
}

// The remaining MediaServer callbacks are server-only commands; a well-behaved
// server never sends them, and a misbehaving one is simply ignored.

func (c *Client) onAbortMessage(chunkStreamID uint32)              {}
func (c *Client) onAck(sequenceNumber uint32)                      {}
func (c *Client) onSetBandwidth(windowAckSize uint32, limit uint8) {}
func (c *Client) onPingResponse(timestamp uint32)                  {}

func (c *Client) onConnect(csID uint32, transactionID float64, data map[string]interface{}) error {
	return nil
}

func (c *Client) onReleaseStream(csID uint32, transactionID float64, data map[string]interface{}, streamKey string) error {
	return nil
}

func (c *Client) onFCPublish(csID uint32, transactionID float64, data map[string]interface{}, streamKey string) error {
	return nil
}

func (c *Client) onCreateStream(csID uint32, transactionID float64, data map[string]interface{}) error {
	return nil
}

func (c *Client) onPublish(transactionID float64, data map[string]interface{}, streamKey string, publishingType string) error {
	return nil
}

func (c *Client) onPlay(streamKey string, startTime float64) error {
	return nil
}

func (c *Client) onFCUnpublish(data map[string]interface{}, streamKey string) error {
	return nil
}

func (c *Client) onCloseStream(csID uint32, transactionID float64, data map[string]interface{}) error {
	return nil
}

func (c *Client) onDeleteStream(data map[string]interface{}, streamID float64) error {
	return nil
}
