package events

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/relaykit/relay/pkg/models"
)

// defaultDispatchBatch bounds how many event rows one tail read pulls.
const defaultDispatchBatch = 512

// Distributor is the committed-events broadcaster. The mutation kernel calls
// Notify after each commit; a single tail goroutine then reads every event
// row past the last dispatched id, in id order, and hands each envelope to
// the sessions whose subscription matches.
//
// One reader of the log, many session consumers. Because the tail goroutine
// is the only dispatcher, every session observes events in strictly
// ascending event_id order regardless of how commit notifications interleave.
type Distributor struct {
	db        *sql.DB
	logger    *slog.Logger
	batchSize int

	mu       sync.Mutex
	sessions map[string]*Session

	notify chan struct{}
	done   chan struct{}

	// lastID is only touched by the tail goroutine after Start.
	lastID int64
}

// NewDistributor creates a distributor reading from the given (read-only)
// database handle.
func NewDistributor(db *sql.DB, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		db:        db,
		logger:    logger.With("component", "distributor"),
		batchSize: defaultDispatchBatch,
		sessions:  make(map[string]*Session),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start records the current log head and launches the tail goroutine.
// Events committed before Start are reachable only through replay.
func (d *Distributor) Start(ctx context.Context) error {
	head, err := MaxEventID(ctx, d.db)
	if err != nil {
		return err
	}
	d.lastID = head
	go d.run(ctx)
	return nil
}

// Notify wakes the tail goroutine. Coalescing is fine: one wakeup drains
// everything committed so far.
func (d *Distributor) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Done is closed when the tail goroutine has exited.
func (d *Distributor) Done() <-chan struct{} { return d.done }

// SessionCount returns the number of registered sessions.
func (d *Distributor) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *Distributor) register(s *Session) {
	d.mu.Lock()
	d.sessions[s.id] = s
	d.mu.Unlock()
}

func (d *Distributor) unregister(id string) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
}

// closeAll kicks every session with the given close code. Used at shutdown.
func (d *Distributor) closeAll(code websocket.StatusCode, reason string) {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		s.kick(code, reason)
	}
}

func (d *Distributor) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.notify:
			if err := d.drain(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Error("Failed to drain committed events", "error", err)
			}
		}
	}
}

// drain reads committed rows past lastID in batches until the log is caught
// up, dispatching each envelope as it goes.
func (d *Distributor) drain(ctx context.Context) error {
	for {
		head, err := MaxEventID(ctx, d.db)
		if err != nil {
			return err
		}
		if head <= d.lastID {
			return nil
		}

		envs, err := Replay(ctx, d.db, ReplayQuery{
			AfterEventID: d.lastID,
			ReplayUntil:  head,
			Limit:        d.batchSize,
		})
		if err != nil {
			return err
		}
		for i := range envs {
			d.dispatch(&envs[i])
			d.lastID = envs[i].EventID
		}
		if len(envs) < d.batchSize {
			return nil
		}
	}
}

// dispatch hands one envelope to every matching session. A session whose
// buffer is full is closed with a policy-violation code instead of blocking
// the tail: slow consumers reconnect and resume from their cursor.
func (d *Distributor) dispatch(env *models.Envelope) {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		if s.sub.Matches(env.Scope) {
			sessions = append(sessions, s)
		}
	}
	d.mu.Unlock()

	for _, s := range sessions {
		select {
		case s.buf <- *env:
		default:
			d.logger.Warn("Closing slow session",
				"session_id", s.id, "event_id", env.EventID)
			s.kick(StatusPolicyViolation, "outbound buffer overflow")
		}
	}
}
