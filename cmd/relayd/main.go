// relayd is the workspace message hub daemon. It claims exclusive ownership
// of the workspace store, serves the HTTP API and the WebSocket event stream,
// and publishes its endpoint in .relay/server.json for clients to discover.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/relaykit/relay/pkg/api"
	"github.com/relaykit/relay/pkg/config"
	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/services"
	"github.com/relaykit/relay/pkg/store"
	"github.com/relaykit/relay/pkg/version"
	"github.com/relaykit/relay/pkg/workspace"
)

func main() {
	os.Exit(run())
}

func run() int {
	workspaceDir := flag.String("workspace", ".", "Workspace root directory")
	flag.Parse()

	// .env in the marker directory overrides nothing already exported.
	envPath := filepath.Join(*workspaceDir, workspace.MarkerDir, ".env")
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	root, err := filepath.Abs(*workspaceDir)
	if err != nil {
		logger.Error("Failed to resolve workspace path", "error", err)
		return 1
	}
	if err := workspace.Init(root); err != nil {
		logger.Error("Failed to create workspace marker", "error", err)
		return 1
	}

	instanceID := uuid.NewString()
	logger.Info("Starting relayd",
		"workspace", root,
		"instance_id", instanceID,
		"version", version.Full())

	ctx := context.Background()

	// 1. Open the store. Exit code 10 tells a spawner the lock race was lost.
	st, err := store.Open(ctx, workspace.DBPath(root))
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			logger.Info("Workspace store is already owned by another process")
			return workspace.ExitCodeLocked
		}
		logger.Error("Failed to open store", "error", err)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Error closing store", "error", err)
		}
	}()
	logger.Info("Store opened",
		"path", st.Path(),
		"db_id", st.Meta().DBID,
		"schema_version", st.Meta().SchemaVersion)

	// 2. Start the fan-out pipeline.
	distCtx, distCancel := context.WithCancel(ctx)
	defer distCancel()

	distributor := events.NewDistributor(st.ReadDB(), logger)
	if err := distributor.Start(distCtx); err != nil {
		logger.Error("Failed to start distributor", "error", err)
		return 1
	}

	sessions := events.NewSessionManager(st.ReadDB(), distributor,
		events.SessionManagerConfig{InstanceID: instanceID}, logger)

	// 3. Wire the mutation kernel.
	channelService := services.NewChannelService(st, distributor)
	topicService := services.NewTopicService(st, distributor)
	messageService := services.NewMessageService(st, distributor)
	attachmentService := services.NewAttachmentService(st, distributor)

	// 4. Start the API server.
	authToken := cfg.AuthToken
	if authToken == "" {
		authToken = uuid.NewString()
	}
	server := api.NewServer(api.Config{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		AuthToken:    authToken,
		InstanceID:   instanceID,
		RateLimitRPS: cfg.RateLimitRPS,
	}, st, channelService, topicService, messageService, attachmentService, sessions, logger)

	addr, serveErrCh, err := server.Start()
	if err != nil {
		logger.Error("Failed to start API server", "error", err)
		return 1
	}

	// 5. Publish the descriptor so clients can find us.
	tcpAddr := addr.(*net.TCPAddr)
	desc := &workspace.Descriptor{
		InstanceID:      instanceID,
		DBID:            st.Meta().DBID,
		Host:            cfg.Host,
		Port:            tcpAddr.Port,
		AuthToken:       authToken,
		PID:             os.Getpid(),
		StartedAt:       time.Now().UTC(),
		ProtocolVersion: version.ProtocolVersion,
		SchemaVersion:   st.Meta().SchemaVersion,
	}
	if err := workspace.WriteDescriptor(root, desc); err != nil {
		logger.Error("Failed to write server descriptor", "error", err)
		return 1
	}
	logger.Info("relayd ready", "addr", desc.BaseURL(), "pid", desc.PID)

	// 6. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("Server error triggered shutdown", "error", err)
		}
	}

	// 7. Graceful shutdown: drop the descriptor first so spawners stop
	// pointing clients here, then close sessions, then drain HTTP.
	if err := workspace.RemoveDescriptor(root); err != nil {
		logger.Error("Failed to remove server descriptor", "error", err)
	}

	sessions.Shutdown()
	distCancel()
	select {
	case <-distributor.Done():
	case <-time.After(2 * time.Second):
		logger.Warn("Distributor did not stop in time")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
	return 0
}
