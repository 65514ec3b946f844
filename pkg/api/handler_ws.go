package api

import (
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay/pkg/events"
)

// handleWS upgrades the connection and delegates to the session manager.
// Auth uses the token query parameter because browser WebSocket clients
// cannot set headers. A bad token is rejected after the upgrade with the
// dedicated close code so clients can distinguish it from transport failures
// and stop reconnecting.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Loopback-only hub; no cross-origin surface to defend.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	if s.cfg.AuthToken != "" && !s.tokenValid(c.Query("token")) {
		_ = conn.Close(events.StatusUnauthorized, "invalid token")
		return
	}

	// Blocks until the session ends.
	s.sessions.HandleSession(c.Request.Context(), conn)
}
