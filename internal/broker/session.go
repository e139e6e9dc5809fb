package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"beacon/internal/logger"
	"beacon/internal/proto"
)

// deviceConn is the slice of *websocket.Conn the session uses. Tests substitute
// an in-memory implementation.
type deviceConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// pendingExecute is the single-slot correlation state for one in-flight
// command. done is buffered so the read loop never blocks on delivery.
type pendingExecute struct {
	id   uint32
	done chan proto.ExecuteResponseFrame
}

// Session owns one device's live connection. The connection-handling goroutine
// (readLoop) has exclusive use of the socket's read side; Execute callers go
// through the guarded pending slot and the write mutex.
type Session struct {
	deviceID    proto.DeviceID
	remoteAddr  string
	conn        deviceConn
	registry    *Registry
	timeout     time.Duration
	connectedAt time.Time
	logger      zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending *pendingExecute
	lastID  uint32

	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(id proto.DeviceID, remoteAddr string, conn deviceConn, registry *Registry, timeout time.Duration) *Session {
	return &Session{
		deviceID:    id,
		remoteAddr:  remoteAddr,
		conn:        conn,
		registry:    registry,
		timeout:     timeout,
		connectedAt: time.Now(),
		logger: logger.New().With().
			Str("device_id", id.String()).
			Str("remote_addr", remoteAddr).
			Logger(),
		closed: make(chan struct{}),
	}
}

// DeviceID returns the identity this session is registered under.
func (s *Session) DeviceID() proto.DeviceID {
	return s.deviceID
}

// RemoteAddr returns the peer network address.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// ConnectedAt returns when the session was established.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Execute sends one command frame to the device and blocks until the matching
// response frame arrives, the connection closes, ctx is cancelled, or the
// session timeout elapses. At most one Execute is in flight per session;
// concurrent calls fail fast with ErrBusy.
func (s *Session) Execute(ctx context.Context, frame proto.ExecuteFrame) (*proto.ExecuteResponseFrame, error) {
	select {
	case <-s.closed:
		return nil, ErrDisconnected
	default:
	}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.lastID++
	frame.ID = s.lastID
	p := &pendingExecute{
		id:   frame.ID,
		done: make(chan proto.ExecuteResponseFrame, 1),
	}
	s.pending = p
	s.mu.Unlock()

	encoded, err := proto.Encode(frame)
	if err != nil {
		s.clearPending(p)
		return nil, err
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.BinaryMessage, encoded)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Debug().Err(err).Msg("Write failed, tearing down session")
		s.teardown()
		return nil, ErrDisconnected
	}

	s.logger.Debug().
		Uint32("correlation_id", frame.ID).
		Str("command", frame.Command.String()).
		Msg("Command sent to device")

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case resp := <-p.done:
		return &resp, nil
	case <-timer.C:
		s.clearPending(p)
		s.logger.Warn().
			Uint32("correlation_id", frame.ID).
			Dur("timeout", s.timeout).
			Msg("Command timed out")
		return nil, ErrTimeout
	case <-ctx.Done():
		s.clearPending(p)
		return nil, ctx.Err()
	case <-s.closed:
		// A response may have been delivered just before teardown; prefer it.
		select {
		case resp := <-p.done:
			return &resp, nil
		default:
			return nil, ErrDisconnected
		}
	}
}

// clearPending releases the slot if it still belongs to p. A response that
// races in after this point finds the slot empty and is discarded.
func (s *Session) clearPending(p *pendingExecute) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

// sendFrame writes a single frame to the device outside the Execute path
// (handshake ConnACK).
func (s *Session) sendFrame(frame proto.Frame) error {
	encoded, err := proto.Encode(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

// readLoop consumes the connection until it closes or violates the protocol.
// Frames are processed in arrival order; delivery into the pending slot never
// blocks the loop.
func (s *Session) readLoop() {
	defer s.teardown()

	var buf []byte
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		buf = append(buf, data...)
		for len(buf) > 0 {
			frame, n, err := proto.Decode(buf)
			if errors.Is(err, proto.ErrIncomplete) {
				break
			}
			if err != nil {
				// Protocol violation: the stream cannot be resynchronized.
				s.logger.Warn().Err(err).Msg("Protocol error, terminating connection")
				return
			}
			buf = buf[n:]
			s.handleFrame(frame)
		}
	}
}

// handleFrame routes one decoded inbound frame. Frames that are not the answer
// to the pending command are logged and dropped.
func (s *Session) handleFrame(frame proto.Frame) {
	switch f := frame.(type) {
	case proto.ExecuteResponseFrame:
		s.mu.Lock()
		p := s.pending
		if p != nil && p.id == f.ID {
			s.pending = nil
			s.mu.Unlock()
			p.done <- f
			return
		}
		s.mu.Unlock()
		s.logger.Debug().
			Uint32("correlation_id", f.ID).
			Msg("Discarding response with no pending command")
	default:
		s.logger.Debug().
			Str("opcode", frame.Opcode().String()).
			Msg("Discarding unexpected frame")
	}
}

// teardown closes the session exactly once: any in-flight Execute observes
// ErrDisconnected, the registry entry is removed, and the connection resource
// is released.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()

		s.registry.Remove(s.deviceID, s)
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Error closing connection")
		}

		s.logger.Info().Msg("Session closed")
	})
}
