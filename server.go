package rtmp

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pksorensen/video-streaming-portal-sub001/config"
)

// Server accepts RTMP connections and runs a Session per connection. It
// enforces the connection ceiling before a session is even constructed, so an
// overloaded server spends nothing on handshakes it is going to refuse.
type Server struct {
	logger      *zap.Logger
	cfg         config.RTMP
	broadcaster *Broadcaster
	stats       StatsCollector

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	active atomic.Int64
	wg     sync.WaitGroup
}

func NewServer(logger *zap.Logger, cfg config.RTMP, broadcaster *Broadcaster, stats StatsCollector) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = NopCollector{}
	}
	return &Server{
		logger:      logger,
		cfg:         cfg,
		broadcaster: broadcaster,
		stats:       stats,
	}
}

// ListenAndServe listens on the configured address and serves until Close is
// called. It returns nil on a clean shutdown.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "rtmp: listen %s", s.cfg.Addr)
	}
	return s.Serve(listener)
}

// Serve accepts connections from listener until Close is called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return errors.New("rtmp: server is closed")
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("rtmp server listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return errors.Wrap(err, "rtmp: accept")
		}

		if s.cfg.MaxConnections > 0 && s.active.Load() >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("refusing connection, ceiling reached",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Int("maxConnections", s.cfg.MaxConnections))
			_ = conn.Close()
			continue
		}

		s.active.Add(1)
		s.stats.ConnectionOpened()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.active.Add(-1)
		s.stats.ConnectionClosed()
	}()

	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Debug("connection accepted")

	session := NewSession(logger, conn, s.broadcaster, s.cfg, s.stats)
	if err := session.Run(); err != nil && !isClosedConnError(err) {
		logger.Info("session ended", zap.Error(err))
	}
	_ = session.Close()
}

// ActiveConnections returns the number of connections currently served.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Close stops accepting and waits for in-flight sessions to finish their
// teardown. Established sessions are not forcibly interrupted beyond their
// sockets closing when their peers leave.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	return err
}

// isClosedConnError reports errors that just mean the peer (or our own
// teardown) closed the socket; those end sessions routinely and aren't worth
// logging.
func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
