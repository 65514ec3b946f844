// Package relaytest provides an in-process hub harness for tests: a real
// store in a temp directory, the full fan-out pipeline, and the HTTP surface
// behind an httptest listener.
package relaytest

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay/pkg/api"
	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/services"
	"github.com/relaykit/relay/pkg/store"
)

// Hub is one fully wired in-process hub instance.
type Hub struct {
	Store       *store.Store
	Distributor *events.Distributor
	Sessions    *events.SessionManager
	Channels    *services.ChannelService
	Topics      *services.TopicService
	Messages    *services.MessageService
	Attachments *services.AttachmentService

	// InstanceID is echoed in hello_ok frames.
	InstanceID string
	// Token is the bearer token the harness configured.
	Token string

	srv *httptest.Server
}

// Options tunes the harness; zero value works for most tests.
type Options struct {
	// AuthToken overrides the generated token; "-" disables auth.
	AuthToken string
	// DBPath reuses an existing store file, for restart-shaped tests.
	DBPath string
	// SessionConfig overrides session manager defaults.
	SessionConfig events.SessionManagerConfig
}

// StartHub starts a hub on a temp store and registers cleanup with t.
func StartHub(t *testing.T) *Hub {
	t.Helper()
	return StartHubWith(t, Options{})
}

// StartHubWith starts a hub with explicit options.
func StartHubWith(t *testing.T, opts Options) *Hub {
	t.Helper()

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "relay.db")
	}

	token := opts.AuthToken
	switch token {
	case "":
		token = uuid.NewString()
	case "-":
		token = ""
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithCancel(context.Background())
	st, err := store.Open(ctx, dbPath)
	require.NoError(t, err)

	dist := events.NewDistributor(st.ReadDB(), logger)
	require.NoError(t, dist.Start(ctx))

	cfg := opts.SessionConfig
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
		cfg.InstanceID = instanceID
	}
	sessions := events.NewSessionManager(st.ReadDB(), dist, cfg, logger)

	h := &Hub{
		Store:       st,
		Distributor: dist,
		Sessions:    sessions,
		Channels:    services.NewChannelService(st, dist),
		Topics:      services.NewTopicService(st, dist),
		Messages:    services.NewMessageService(st, dist),
		Attachments: services.NewAttachmentService(st, dist),
		InstanceID:  instanceID,
		Token:       token,
	}

	server := api.NewServer(api.Config{
		AuthToken:  token,
		InstanceID: instanceID,
	}, st, h.Channels, h.Topics, h.Messages, h.Attachments, sessions, logger)
	h.srv = httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		sessions.Shutdown()
		h.srv.Close()
		cancel()
		<-dist.Done()
		require.NoError(t, st.Close())
	})
	return h
}

// URL is the hub's HTTP base URL.
func (h *Hub) URL() string { return h.srv.URL }

// WSURL is the WebSocket endpoint with the auth token attached.
func (h *Hub) WSURL() string {
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	if h.Token != "" {
		u += "?token=" + h.Token
	}
	return u
}
