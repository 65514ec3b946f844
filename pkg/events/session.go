package events

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/relaykit/relay/pkg/models"
)

// Session is one connected WebSocket client after a successful handshake.
// The distributor feeds its bounded buffer; the owning goroutine in
// SessionManager.HandleSession drains it during the live phase.
type Session struct {
	id          string
	conn        *websocket.Conn
	sub         *Subscription
	buf         chan models.Envelope
	replayUntil int64

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closeStatus websocket.StatusCode
	closeReason string
}

func newSession(parent context.Context, conn *websocket.Conn, sub *Subscription, bufSize int) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:     uuid.New().String(),
		conn:   conn,
		sub:    sub,
		buf:    make(chan models.Envelope, bufSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// kick marks the session for closure with the given status and cancels its
// context. The first kick wins; later calls are no-ops. Safe from any
// goroutine; the distributor uses it to drop slow sessions.
func (s *Session) kick(status websocket.StatusCode, reason string) {
	s.mu.Lock()
	if s.closeStatus == 0 {
		s.closeStatus = status
		s.closeReason = reason
	}
	s.mu.Unlock()
	s.cancel()
}

// closeState returns the status set by kick, or a going-away default when
// the session ended through parent context cancellation.
func (s *Session) closeState() (websocket.StatusCode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeStatus == 0 {
		return StatusGoingAway, "server shutting down"
	}
	return s.closeStatus, s.closeReason
}
