package rtmp

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pksorensen/video-streaming-portal-sub001/audio"
	"github.com/pksorensen/video-streaming-portal-sub001/config"
	"github.com/pksorensen/video-streaming-portal-sub001/rand"
	"github.com/pksorensen/video-streaming-portal-sub001/video"
)

// SessionState tracks where a connection is in its lifecycle. Transitions are
// driven by the commands the peer sends; anything arriving in the wrong state
// is a protocol error that terminates the connection.
type SessionState int32

const (
	// StateHandshaking covers both the byte-level handshake and the window up
	// to the connect command.
	StateHandshaking SessionState = iota
	StateConnected
	StatePublishing
	StatePlaying
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StatePublishing:
		return "publishing"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one accepted connection. It drives the handshake, interprets the
// command sequence through its MessageManager and, depending on what the peer
// asks for, becomes a publisher feeding the broadcaster or a player consuming
// from it (implementing Subscriber).
type Session struct {
	logger      *zap.Logger
	sessionID   string
	conn        net.Conn
	broadcaster *Broadcaster
	cfg         config.RTMP
	stats       StatsCollector

	handshaker     Handshaker
	messageManager *MessageManager

	state atomic.Int32

	closeOnce sync.Once
	closeErr  error

	// subscription is non-nil while playing. It is written by the read loop,
	// cleared by the delivery goroutine on end of stream and read during
	// teardown from the ping goroutine, so every access goes through subMu.
	subMu        sync.Mutex
	subscription *Subscription

	// Connect command data.
	app      string
	flashVer string
	swfURL   string
	tcURL    string

	streamKey      string
	publishingType string

	started  time.Time
	lastPong atomic.Int64
	stopPing chan struct{}
}

func NewSession(logger *zap.Logger, conn net.Conn, broadcaster *Broadcaster, cfg config.RTMP, stats StatsCollector) *Session {
	if stats == nil {
		stats = NopCollector{}
	}
	sessionID := rand.NewID()
	session := &Session{
		logger:      logger.With(zap.String("sessionID", sessionID)),
		sessionID:   sessionID,
		conn:        conn,
		broadcaster: broadcaster,
		cfg:         cfg,
		stats:       stats,
		handshaker:  &ServerHandshaker{},
		started:     time.Now(),
		stopPing:    make(chan struct{}),
	}

	reader := NewReader(bufio.NewReaderSize(conn, config.BufioSize))
	writer := NewWriter(bufio.NewWriterSize(conn, config.BufioSize))
	chunkHandler := NewChunkHandler(reader, writer, cfg.MaxMessageSize)
	session.messageManager = NewMessageManager(session, chunkHandler)
	return session
}

// GetID returns the session's unique id. It doubles as the publisher id in
// the registry and the subscriber id in fan-out.
func (session *Session) GetID() string {
	return session.sessionID
}

// State returns the session's current lifecycle state.
func (session *Session) State() SessionState {
	return SessionState(session.state.Load())
}

func (session *Session) setState(s SessionState) {
	session.state.Store(int32(s))
}

// Run performs the handshake and then reads messages until the connection
// dies, the peer leaves, or a protocol violation occurs. It always cleans up
// registry state before returning.
func (session *Session) Run() error {
	defer session.teardown()

	if err := session.handshaker.Handshake(session.conn, session.messageManager.chunkHandler.writer); err != nil {
		session.logger.Warn("handshake failed", zap.Error(err))
		return err
	}
	session.logger.Debug("handshake completed")

	session.lastPong.Store(time.Now().UnixNano())
	go session.pingLoop()

	for {
		if session.State() == StateClosed {
			return session.closeErr
		}
		if session.cfg.StreamTimeout > 0 {
			if err := session.conn.SetReadDeadline(time.Now().Add(session.cfg.StreamTimeout)); err != nil {
				return err
			}
		}
		if err := session.messageManager.nextMessage(); err != nil {
			if session.State() == StateClosed {
				return session.closeErr
			}
			if IsProtocolError(err) {
				session.logger.Warn("closing session on protocol error", zap.Error(err))
			}
			return err
		}
	}
}

// Close tears the session down: registry state is released, playing
// subscribers get their end-of-stream, and the socket is closed. Idempotent.
func (session *Session) Close() error {
	session.teardown()
	return nil
}

func (session *Session) teardown() {
	session.closeOnce.Do(func() {
		prev := session.State()
		session.setState(StateClosed)
		close(session.stopPing)

		if sub := session.takeSubscription(); sub != nil {
			sub.Cancel()
		}
		if prev == StatePublishing {
			session.broadcaster.DestroyPublisher(session.streamKey, session.sessionID)
		}
		_ = session.conn.Close()
		session.logger.Info("session closed",
			zap.String("state", prev.String()),
			zap.Duration("uptime", time.Since(session.started)))
	})
}

// pingLoop keeps the peer honest: a ping request goes out every PingInterval,
// and a peer that hasn't answered within PingTimeout is disconnected.
func (session *Session) pingLoop() {
	if session.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(session.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-session.stopPing:
			return
		case <-ticker.C:
			if session.cfg.PingTimeout > 0 {
				last := time.Unix(0, session.lastPong.Load())
				if time.Since(last) > session.cfg.PingTimeout {
					session.logger.Warn("peer stopped answering pings, disconnecting")
					session.teardown()
					return
				}
			}
			elapsed := uint32(time.Since(session.started) / time.Millisecond)
			if err := session.messageManager.sendPingRequest(elapsed); err != nil {
				session.teardown()
				return
			}
		}
	}
}

func (session *Session) onConnect(csID uint32, transactionID float64, data map[string]interface{}) error {
	if session.State() != StateHandshaking {
		return NewProtocolErrorf("connect received in state %s", session.State())
	}
	session.storeConnectData(data)

	if session.app != session.cfg.App {
		session.logger.Info("rejecting connect to unknown app", zap.String("app", session.app))
		_ = session.messageManager.sendConnectError(csID, "application does not exist: "+session.app)
		session.teardown()
		return nil
	}

	// The connect response sequence follows the usual server order: window ack
	// size, peer bandwidth, stream begin, chunk size, then the success result.
	if err := session.messageManager.sendWindowAckSize(config.DefaultClientWindowSize); err != nil {
		return err
	}
	if err := session.messageManager.sendSetPeerBandWidth(config.DefaultClientWindowSize, LimitDynamic); err != nil {
		return err
	}
	if err := session.messageManager.sendBeginStream(config.DefaultPublishStreamID); err != nil {
		return err
	}
	if err := session.messageManager.sendSetChunkSize(session.cfg.ChunkSize); err != nil {
		return err
	}
	session.messageManager.SetWindowAckSize(config.DefaultClientWindowSize)
	if err := session.messageManager.sendConnectSuccess(csID); err != nil {
		return err
	}

	session.setState(StateConnected)
	session.logger.Debug("client connected", zap.String("app", session.app), zap.String("tcUrl", session.tcURL))
	return nil
}

func (session *Session) storeConnectData(data map[string]interface{}) {
	if app, ok := data["app"].(string); ok {
		session.app = app
	}
	if v, ok := data["flashVer"].(string); ok {
		session.flashVer = v
	} else if v, ok := data["flashver"].(string); ok {
		session.flashVer = v
	}
	if v, ok := data["swfUrl"].(string); ok {
		session.swfURL = v
	} else if v, ok := data["swfurl"].(string); ok {
		session.swfURL = v
	}
	if v, ok := data["tcUrl"].(string); ok {
		session.tcURL = v
	} else if v, ok := data["tcurl"].(string); ok {
		session.tcURL = v
	}
}

func (session *Session) onCreateStream(csID uint32, transactionID float64, data map[string]interface{}) error {
	if session.State() != StateConnected {
		return NewProtocolErrorf("createStream received in state %s", session.State())
	}
	if err := session.messageManager.sendCreateStreamResponse(csID, transactionID); err != nil {
		return err
	}
	return session.messageManager.sendBeginStream(uint32(config.DefaultStreamID))
}

func (session *Session) onPublish(transactionID float64, args map[string]interface{}, streamKey string, publishingType string) error {
	if session.State() != StateConnected {
		return NewProtocolErrorf("publish received in state %s", session.State())
	}
	if publishingType != "live" {
		_ = session.messageManager.sendStatusMessage("error", "NetStream.Publish.Failed",
			"only live publishing is supported")
		session.teardown()
		return nil
	}

	if err := session.broadcaster.RegisterPublisher(streamKey, session.sessionID); err != nil {
		// A second publisher on a key in use is refused without disturbing the
		// first: BadName, then drop the connection.
		session.logger.Info("rejecting duplicate publisher", zap.String("streamKey", streamKey))
		_ = session.messageManager.sendStatusMessage("error", "NetStream.Publish.BadName",
			"stream key already in use")
		session.teardown()
		return nil
	}

	session.streamKey = streamKey
	session.publishingType = publishingType
	session.setState(StatePublishing)

	return session.messageManager.sendStatusMessage("status", "NetStream.Publish.Start",
		"Publishing stream "+streamKey)
}

func (session *Session) onPlay(streamKey string, startTime float64) error {
	if session.State() != StateConnected {
		return NewProtocolErrorf("play received in state %s", session.State())
	}

	if err := session.messageManager.sendBeginStream(uint32(config.DefaultStreamID)); err != nil {
		return err
	}
	if err := session.messageManager.sendPlayStart(streamKey); err != nil {
		return err
	}
	if err := session.messageManager.sendRtmpSampleAccess(true, true); err != nil {
		return err
	}

	session.streamKey = streamKey
	session.setState(StatePlaying)
	// Attach after the play response so the replayed sequence headers and GOP
	// arrive where the client expects them. The stream entry is created lazily
	// if nobody is publishing yet; frames flow once a publisher arrives.
	session.setSubscription(session.broadcaster.RegisterSubscriber(streamKey, session))
	return nil
}

func (session *Session) setSubscription(sub *Subscription) {
	session.subMu.Lock()
	session.subscription = sub
	session.subMu.Unlock()
}

// takeSubscription clears and returns the current subscription, if any.
func (session *Session) takeSubscription() *Subscription {
	session.subMu.Lock()
	sub := session.subscription
	session.subscription = nil
	session.subMu.Unlock()
	return sub
}

func (session *Session) onReleaseStream(csID uint32, transactionID float64, args map[string]interface{}, streamKey string) error {
	return nil
}

func (session *Session) onFCPublish(csID uint32, transactionID float64, args map[string]interface{}, streamKey string) error {
	return session.messageManager.sendOnFCPublish(csID, streamKey)
}

func (session *Session) onFCUnpublish(args map[string]interface{}, streamKey string) error {
	session.stopPublishing()
	return nil
}

func (session *Session) onCloseStream(csID uint32, transactionID float64, args map[string]interface{}) error {
	session.stopStreaming()
	return nil
}

func (session *Session) onDeleteStream(args map[string]interface{}, streamID float64) error {
	session.stopStreaming()
	return nil
}

// stopStreaming returns a publishing or playing session to Connected; the
// connection stays usable for a subsequent publish or play.
func (session *Session) stopStreaming() {
	switch session.State() {
	case StatePublishing:
		session.stopPublishing()
	case StatePlaying:
		if sub := session.takeSubscription(); sub != nil {
			sub.Cancel()
		}
		session.setState(StateConnected)
	}
}

func (session *Session) stopPublishing() {
	if session.State() != StatePublishing {
		return
	}
	session.broadcaster.DestroyPublisher(session.streamKey, session.sessionID)
	session.setState(StateConnected)
}

func (session *Session) onSetChunkSize(size uint32) {
	session.messageManager.SetChunkSize(size)
}

func (session *Session) onAbortMessage(chunkStreamID uint32) {
}

func (session *Session) onAck(sequenceNumber uint32) {
}

func (session *Session) onSetWindowAckSize(windowAckSize uint32) {
	session.messageManager.SetWindowAckSize(windowAckSize)
}

func (session *Session) onSetBandwidth(windowAckSize uint32, limitType uint8) {
}

func (session *Session) onStreamBegin(streamID uint32) {
}

func (session *Session) onPingRequest(timestamp uint32) error {
	return session.messageManager.sendPingResponse(timestamp)
}

func (session *Session) onPingResponse(timestamp uint32) {
	session.lastPong.Store(time.Now().UnixNano())
}

func (session *Session) onResult(info map[string]interface{}) error {
	return nil
}

func (session *Session) onStatus(info map[string]interface{}) error {
	return nil
}

func (session *Session) onMetadata(metadata map[string]interface{}) error {
	if session.State() != StatePublishing {
		return NewProtocolErrorf("metadata received in state %s", session.State())
	}
	session.broadcaster.BroadcastMetadata(session.streamKey, metadata)
	return nil
}

// onAudioMessage receives the full audio payload, FLV tag header included, so
// it can be forwarded to subscribers byte for byte.
func (session *Session) onAudioMessage(format audio.Format, sampleRate audio.SampleRate, sampleSize audio.SampleSize, channels audio.Channel, payload []byte, timestamp uint32) error {
	if session.State() != StatePublishing {
		return NewProtocolErrorf("audio received in state %s", session.State())
	}
	session.broadcaster.BroadcastAudio(session.streamKey, payload, timestamp)
	return nil
}

func (session *Session) onVideoMessage(frameType video.FrameType, codec video.Codec, payload []byte, timestamp uint32) error {
	if session.State() != StatePublishing {
		return NewProtocolErrorf("video received in state %s", session.State())
	}
	session.broadcaster.BroadcastVideo(session.streamKey, payload, timestamp)
	return nil
}

// SendAudio, SendVideo, SendMetadata and SendEndOfStream implement Subscriber:
// they run on the Subscription's delivery goroutine while the session is playing.

func (session *Session) SendAudio(payload []byte, timestamp uint32) error {
	return session.messageManager.sendAudio(payload, timestamp)
}

func (session *Session) SendVideo(payload []byte, timestamp uint32) error {
	return session.messageManager.sendVideo(payload, timestamp)
}

func (session *Session) SendMetadata(metadata map[string]interface{}) error {
	return session.messageManager.sendMetadata(metadata)
}

// SendEndOfStream tells the player the publisher went away. The connection is
// kept open; the client may issue another play.
func (session *Session) SendEndOfStream() {
	_ = session.messageManager.sendStatusMessage("status", "NetStream.Play.Stop", "Stopped playing stream.")
	if session.State() == StatePlaying {
		session.takeSubscription()
		session.setState(StateConnected)
	}
}
