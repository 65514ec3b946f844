package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Defaults for SessionManagerConfig zero values.
const (
	defaultPageSize         = 500
	defaultBufferSize       = 256
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// SessionManagerConfig tunes the per-session protocol.
type SessionManagerConfig struct {
	// InstanceID is echoed in hello_ok so clients can detect hub restarts.
	InstanceID string
	// PageSize bounds each replay batch.
	PageSize int
	// BufferSize is the per-session outbound buffer; overflow closes the
	// session with a policy-violation code.
	BufferSize int
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the wait for the client's hello frame.
	HandshakeTimeout time.Duration
}

func (c *SessionManagerConfig) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
}

// SessionManager runs the WebSocket session protocol: handshake, replay
// phase up to a frozen boundary, then live streaming from the distributor.
type SessionManager struct {
	db     *sql.DB
	dist   *Distributor
	cfg    SessionManagerConfig
	logger *slog.Logger
}

// NewSessionManager creates a session manager reading replay pages from the
// given (read-only) database handle.
func NewSessionManager(db *sql.DB, dist *Distributor, cfg SessionManagerConfig, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &SessionManager{
		db:     db,
		dist:   dist,
		cfg:    cfg,
		logger: logger.With("component", "sessions"),
	}
}

// Shutdown closes every active session with a going-away code. New
// connections are the HTTP layer's problem; it stops accepting first.
func (m *SessionManager) Shutdown() {
	m.dist.closeAll(StatusGoingAway, "server shutting down")
}

// HandleSession drives one connection from handshake to close. Called by the
// HTTP handler after upgrade and auth; blocks until the session ends.
//
// Transition invariant: replay_until is frozen before hello_ok is sent. The
// replay phase emits only ids <= replay_until; the live phase drops any
// buffered id <= replay_until. Because the session registers with the
// distributor before the boundary is captured, an event committed during
// replay is either inside the boundary (replayed, dropped from the buffer)
// or past it (delivered live), never both and never neither.
func (m *SessionManager) HandleSession(ctx context.Context, conn *websocket.Conn) {
	hello, err := m.readHello(ctx, conn)
	if err != nil {
		m.logger.Warn("Rejecting session with invalid handshake", "error", err)
		_ = conn.Close(StatusPolicyViolation, "invalid hello")
		return
	}

	s := newSession(ctx, conn, hello.Subscriptions, m.cfg.BufferSize)
	m.dist.register(s)
	defer m.dist.unregister(s.id)

	replayUntil, err := MaxEventID(ctx, m.db)
	if err != nil {
		m.logger.Error("Failed to capture replay boundary", "error", err)
		_ = conn.Close(StatusInternalError, "replay boundary")
		return
	}
	s.replayUntil = replayUntil

	if err := m.writeJSON(s, HelloOKFrame{
		Type:        FrameHelloOK,
		ReplayUntil: replayUntil,
		InstanceID:  m.cfg.InstanceID,
	}); err != nil {
		m.logger.Warn("Failed to send hello_ok", "session_id", s.id, "error", err)
		conn.CloseNow()
		return
	}

	// Surface client-side closes: the read loop's only job is to cancel the
	// session when the peer goes away (clients never send past hello).
	go func() {
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				s.cancel()
				return
			}
		}
	}()

	if err := m.replay(s, hello.AfterEventID); err != nil {
		m.logger.Warn("Replay phase ended early", "session_id", s.id, "error", err)
		conn.CloseNow()
		return
	}

	m.live(s)
}

// readHello reads and validates the single handshake frame.
func (m *SessionManager) readHello(ctx context.Context, conn *websocket.Conn) (*HelloFrame, error) {
	readCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	var hello HelloFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	if hello.Type != FrameHello {
		return nil, fmt.Errorf("unexpected frame type %q", hello.Type)
	}
	if hello.AfterEventID < 0 {
		return nil, fmt.Errorf("after_event_id %d < 0", hello.AfterEventID)
	}
	return &hello, nil
}

// replay streams events in (after, replay_until] in pages, preserving id
// order.
func (m *SessionManager) replay(s *Session, after int64) error {
	var sub Subscription
	if s.sub != nil {
		sub = *s.sub
	}
	for after < s.replayUntil {
		envs, err := Replay(s.ctx, m.db, ReplayQuery{
			AfterEventID: after,
			ReplayUntil:  s.replayUntil,
			ChannelIDs:   sub.Channels,
			TopicIDs:     sub.Topics,
			Limit:        m.cfg.PageSize,
		})
		if err != nil {
			return err
		}
		for i := range envs {
			if err := m.writeJSON(s, &envs[i]); err != nil {
				return err
			}
			after = envs[i].EventID
		}
		if len(envs) < m.cfg.PageSize {
			break
		}
	}
	return nil
}

// live drains the distributor buffer, dropping ids at or below the frozen
// boundary so replay and live never overlap.
func (m *SessionManager) live(s *Session) {
	for {
		select {
		case <-s.ctx.Done():
			status, reason := s.closeState()
			_ = s.conn.Close(status, reason)
			return
		case env := <-s.buf:
			if env.EventID <= s.replayUntil {
				continue
			}
			if err := m.writeJSON(s, &env); err != nil {
				m.logger.Warn("Live write failed", "session_id", s.id, "error", err)
				s.conn.CloseNow()
				return
			}
		}
	}
}

// writeJSON marshals and writes one frame with the configured write timeout.
func (m *SessionManager) writeJSON(s *Session, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(s.ctx, m.cfg.WriteTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, data)
}
