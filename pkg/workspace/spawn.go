package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// ExitCodeLocked is the daemon's exit code when another process already
// holds the store lock. A spawner treats it as "lost the race", not a
// failure: some other hub is (or is about to be) serving this workspace.
const ExitCodeLocked = 10

const (
	probeTimeout   = 2 * time.Second
	spawnPollEvery = 50 * time.Millisecond
)

// SpawnOptions configures EnsureServer.
type SpawnOptions struct {
	// Binary is the daemon executable; defaults to "relayd" on PATH.
	Binary string
	// SpawnTimeout bounds one spawn attempt from fork to ready descriptor.
	SpawnTimeout time.Duration
	// Attempts caps discovery/spawn rounds.
	Attempts int

	Logger *slog.Logger
}

func (o *SpawnOptions) applyDefaults() {
	if o.Binary == "" {
		o.Binary = "relayd"
	}
	if o.SpawnTimeout <= 0 {
		o.SpawnTimeout = 15 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// EnsureServer returns a healthy hub descriptor for the workspace, spawning
// the daemon when none is running. The protocol tolerates concurrent
// spawners: whoever wins the store lock writes the descriptor, losers exit
// with ExitCodeLocked and the spawner re-enters discovery after a short
// jitter. Ownership of a spawn is only claimed when the re-read descriptor
// carries the spawned child's pid; otherwise the descriptor belongs to a
// racing winner and is used as-is.
func EnsureServer(ctx context.Context, root string, opts SpawnOptions) (*Descriptor, error) {
	opts.applyDefaults()
	logger := opts.Logger.With("component", "spawn")

	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if d := discover(ctx, root); d != nil {
			return d, nil
		}

		d, err := spawnOnce(ctx, root, opts, logger)
		if err == nil {
			return d, nil
		}
		if errors.Is(err, errLostRace) {
			// Another spawner won; give its daemon a moment to publish.
			jitter := 50*time.Millisecond + time.Duration(rand.Int63n(int64(50*time.Millisecond)))
			logger.Debug("Lost spawn race, retrying discovery", "jitter", jitter)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}
			continue
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no healthy hub after spawn attempts")
	}
	return nil, fmt.Errorf("ensure server for %s: %w", root, lastErr)
}

var errLostRace = errors.New("lost spawn race")

// discover returns the current descriptor when it is valid and its hub
// answers the health probe. A stale descriptor (dead pid, unhealthy
// endpoint) is treated as absent.
func discover(ctx context.Context, root string) *Descriptor {
	d, err := ReadDescriptor(root)
	if err != nil {
		return nil
	}
	if err := d.Validate(); err != nil {
		return nil
	}
	if !pidAlive(d.PID) {
		return nil
	}
	if !probeHealth(ctx, d) {
		return nil
	}
	return d
}

// spawnOnce launches the daemon and waits until either the descriptor
// becomes healthy or the child exits. The child is detached into its own
// session so it outlives the spawner.
func spawnOnce(ctx context.Context, root string, opts SpawnOptions, logger *slog.Logger) (*Descriptor, error) {
	if err := Init(root); err != nil {
		return nil, err
	}

	logPath := filepath.Join(root, MarkerDir, "relayd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	cmd := exec.Command(opts.Binary, "-workspace", root)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Binary, err)
	}
	childPID := cmd.Process.Pid
	logger.Debug("Spawned daemon", "pid", childPID)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.NewTimer(opts.SpawnTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(spawnPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return nil, ctx.Err()
		case err := <-exited:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitCodeLocked {
				return nil, errLostRace
			}
			if err == nil {
				// A daemon that exits cleanly before publishing is a failure.
				return nil, errors.New("daemon exited before becoming ready")
			}
			return nil, fmt.Errorf("daemon exited: %w (see %s)", err, logPath)
		case <-deadline.C:
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("daemon not ready after %s", opts.SpawnTimeout)
		case <-ticker.C:
			if d := discover(ctx, root); d != nil {
				// A racing winner's descriptor counts too; when it is not
				// ours, our child will see the lock and exit on its own.
				if d.PID != childPID {
					logger.Debug("Adopting descriptor from racing hub", "pid", d.PID)
				}
				return d, nil
			}
		}
	}
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func probeHealth(ctx context.Context, d *Descriptor) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, d.BaseURL()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
