// Package api is the HTTP and WebSocket surface of the hub: a gin router
// exposing the health probe, the /api/v1 mutation and read endpoints, and the
// /ws upgrade path that hands connections to the session manager.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/services"
	"github.com/relaykit/relay/pkg/store"
	"github.com/relaykit/relay/pkg/version"
)

// maxBodyBytes caps every request body before JSON decoding. Field-level
// limits in the services layer are tighter; this is the outer guard.
const maxBodyBytes = 1 << 20

// Config carries the server's wiring.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:0".
	Addr string
	// AuthToken is the single bearer token; empty disables auth.
	AuthToken string
	// InstanceID identifies this hub process in /health responses.
	InstanceID string
	// RateLimitRPS enables the token-bucket limiter when > 0.
	RateLimitRPS float64
}

// Server owns the router and the listener lifecycle.
type Server struct {
	cfg      Config
	store    *store.Store
	channels *services.ChannelService
	topics   *services.TopicService
	messages *services.MessageService
	attach   *services.AttachmentService
	sessions *events.SessionManager
	logger   *slog.Logger

	engine    *gin.Engine
	httpSrv   *http.Server
	startedAt time.Time
}

// NewServer wires the router. Call Start to listen or Handler to serve from a
// test harness.
func NewServer(
	cfg Config,
	st *store.Store,
	channels *services.ChannelService,
	topics *services.TopicService,
	messages *services.MessageService,
	attach *services.AttachmentService,
	sessions *events.SessionManager,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		store:     st,
		channels:  channels,
		topics:    topics,
		messages:  messages,
		attach:    attach,
		sessions:  sessions,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(limitBody(maxBodyBytes))

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWS)

	v1 := r.Group("/api/v1")
	v1.Use(s.requireAuth())
	v1.Use(requireJSON())
	if s.cfg.RateLimitRPS > 0 {
		v1.Use(rateLimit(s.cfg.RateLimitRPS))
	}

	v1.POST("/channels", s.handleCreateChannel)
	v1.GET("/channels", s.handleListChannels)
	v1.GET("/channels/:id", s.handleGetChannel)
	v1.POST("/channels/:id/topics", s.handleCreateTopic)
	v1.GET("/channels/:id/topics", s.handleListTopics)

	v1.GET("/topics/:id", s.handleGetTopic)
	v1.PATCH("/topics/:id", s.handleRenameTopic)
	v1.POST("/topics/:id/messages", s.handleSendMessage)
	v1.GET("/topics/:id/messages", s.handleListMessages)
	v1.POST("/topics/:id/attachments", s.handleAddAttachment)
	v1.GET("/topics/:id/attachments", s.handleListAttachments)

	v1.GET("/messages/:id", s.handleGetMessage)
	v1.PATCH("/messages/:id", s.handleEditMessage)
	v1.DELETE("/messages/:id", s.handleDeleteMessage)
	v1.POST("/messages/:id/retopic", s.handleRetopicMessage)

	return r
}

// Handler exposes the router for httptest harnesses.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the listener and serves until Shutdown. It returns the bound
// address immediately; serve errors surface on the returned channel.
func (s *Server) Start() (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, nil, err
	}
	s.httpSrv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API server listening", "addr", ln.Addr().String())
	return ln.Addr(), errCh, nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	meta := s.store.Meta()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"instance_id":      s.cfg.InstanceID,
		"db_id":            meta.DBID,
		"schema_version":   meta.SchemaVersion,
		"protocol_version": version.ProtocolVersion,
		"pid":              os.Getpid(),
		"uptime_seconds":   int64(time.Since(s.startedAt).Seconds()),
	})
}

// requestLogger logs one line per request at debug, errors at warn.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if status >= 500 {
			logger.Warn("Request failed", attrs...)
		} else {
			logger.Debug("Request handled", attrs...)
		}
	}
}
