package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/models"
)

const (
	defaultReconnectDelay    = 250 * time.Millisecond
	defaultMaxReconnectDelay = 15 * time.Second
	defaultOpenTimeout       = 10 * time.Second

	// maxHandshakeFailures is the consecutive-failure budget before the
	// stream gives up. Successful handshakes reset it.
	maxHandshakeFailures = 5

	// dedupWindow bounds the set of recently seen event ids. On overflow the
	// older half is dropped; anything that old is outside any realistic
	// redelivery window.
	dedupWindow = 1000

	streamBuffer = 256
)

// Options configures Connect.
type Options struct {
	// URL is the hub base URL, e.g. "http://127.0.0.1:7421".
	URL string
	// Token authenticates the stream; empty when the hub runs without auth.
	Token string
	// AfterEventID is the resume cursor; 0 replays from the beginning.
	AfterEventID int64
	// Subscriptions filters the stream server-side; nil receives everything.
	Subscriptions *events.Subscription
	// ReconnectDelay is the initial backoff between reconnect attempts.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff.
	MaxReconnectDelay time.Duration
	// OpenTimeout bounds dial plus handshake per attempt.
	OpenTimeout time.Duration

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaultOpenTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stream is a live event subscription that survives hub restarts. Reconnects
// resume from the highest event id seen, and a bounded dedup window drops
// events redelivered across the reconnect boundary, so consumers observe
// each event at most once with the cursor always moving forward.
type Stream struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	out  chan models.Envelope
	done chan struct{}

	lastID atomic.Int64

	mu        sync.Mutex
	seen      map[int64]struct{}
	seenOrder []int64
	waiters   map[int]*waiter
	nextWait  int
	err       error
}

type waiter struct {
	pred func(models.Envelope) bool
	ch   chan models.Envelope
}

// Connect starts the stream engine. It returns immediately; the first
// connection attempt happens in the background.
func Connect(ctx context.Context, opts Options) (*Stream, error) {
	opts.applyDefaults()
	if opts.URL == "" {
		return nil, errors.New("stream URL must not be empty")
	}
	wsURL, err := streamURL(opts.URL, opts.Token)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		opts:    opts,
		ctx:     sctx,
		cancel:  cancel,
		logger:  opts.Logger.With("component", "stream"),
		out:     make(chan models.Envelope, streamBuffer),
		done:    make(chan struct{}),
		seen:    make(map[int64]struct{}),
		waiters: make(map[int]*waiter),
	}
	s.lastID.Store(opts.AfterEventID)

	go s.run(wsURL)
	return s, nil
}

// Events is the ordered stream of deduplicated envelopes. It is closed when
// the stream ends; check Err afterwards.
func (s *Stream) Events() <-chan models.Envelope { return s.out }

// LastEventID returns the resume cursor: the highest event id delivered so
// far. It never moves backwards.
func (s *Stream) LastEventID() int64 { return s.lastID.Load() }

// Done is closed when the stream has fully stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended; nil after a clean Close or a normal
// server-side closure.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream. Safe to call more than once.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// WaitForEvent blocks until an event matching pred arrives, the timeout
// expires, or the stream ends. Matching events are still delivered on Events;
// the waiter is a second one-shot subscriber, not a consumer.
func (s *Stream) WaitForEvent(ctx context.Context, pred func(models.Envelope) bool, timeout time.Duration) (*models.Envelope, error) {
	w := &waiter{pred: pred, ch: make(chan models.Envelope, 1)}

	s.mu.Lock()
	id := s.nextWait
	s.nextWait++
	s.waiters[id] = w
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-w.ch:
		return &env, nil
	case <-timer.C:
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrConnectionClosed
	}
}

// run is the reconnect loop.
func (s *Stream) run(wsURL string) {
	defer close(s.done)
	defer close(s.out)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.ReconnectDelay
	bo.MaxInterval = s.opts.MaxReconnectDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	handshakeFailures := 0
	for {
		handshakeOK, err := s.runOnce(wsURL)
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			// Server closed with 1000: the stream is complete.
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			s.fail(err)
			return
		}

		if handshakeOK {
			handshakeFailures = 0
			bo.Reset()
		} else {
			handshakeFailures++
			if handshakeFailures >= maxHandshakeFailures {
				s.fail(fmt.Errorf("%w after %d handshake failures: %v",
					ErrGaveUp, handshakeFailures, err))
				return
			}
		}

		wait := bo.NextBackOff()
		s.logger.Debug("Reconnecting", "after", wait, "cursor", s.lastID.Load(), "cause", err)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runOnce drives one connection: dial, handshake, then read until the
// connection drops. handshakeOK reports whether hello_ok was received, which
// gates the consecutive-failure budget.
func (s *Stream) runOnce(wsURL string) (handshakeOK bool, err error) {
	openCtx, cancel := context.WithTimeout(s.ctx, s.opts.OpenTimeout)
	conn, _, err := websocket.Dial(openCtx, wsURL, nil)
	if err != nil {
		cancel()
		return false, s.classifyClose(fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()

	hello := events.HelloFrame{
		Type:          events.FrameHello,
		AfterEventID:  s.lastID.Load(),
		Subscriptions: s.opts.Subscriptions,
	}
	data, err := json.Marshal(hello)
	if err != nil {
		cancel()
		return false, err
	}
	if err := conn.Write(openCtx, websocket.MessageText, data); err != nil {
		cancel()
		return false, s.classifyClose(fmt.Errorf("write hello: %w", err))
	}

	_, ack, err := conn.Read(openCtx)
	cancel()
	if err != nil {
		return false, s.classifyClose(fmt.Errorf("read hello_ok: %w", err))
	}
	var helloOK events.HelloOKFrame
	if err := json.Unmarshal(ack, &helloOK); err != nil {
		return false, fmt.Errorf("decode hello_ok: %w", err)
	}
	if helloOK.Type != events.FrameHelloOK {
		return false, fmt.Errorf("unexpected handshake frame %q", helloOK.Type)
	}
	s.logger.Debug("Stream connected",
		"replay_until", helloOK.ReplayUntil, "instance_id", helloOK.InstanceID)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return true, s.classifyClose(err)
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		if env.Type != events.FrameEvent {
			continue
		}
		if !s.deliver(env) {
			return true, ErrConnectionClosed
		}
	}
}

// deliver dedups one envelope, advances the cursor, and fans out to the
// events channel and any matching waiters. Returns false when the stream
// context ended mid-send.
func (s *Stream) deliver(env models.Envelope) bool {
	s.mu.Lock()
	if _, dup := s.seen[env.EventID]; dup {
		s.mu.Unlock()
		return true
	}
	s.seen[env.EventID] = struct{}{}
	s.seenOrder = append(s.seenOrder, env.EventID)
	if len(s.seenOrder) > dedupWindow {
		drop := len(s.seenOrder) / 2
		for _, id := range s.seenOrder[:drop] {
			delete(s.seen, id)
		}
		s.seenOrder = append(s.seenOrder[:0], s.seenOrder[drop:]...)
	}
	for _, w := range s.waiters {
		if w.pred(env) {
			select {
			case w.ch <- env:
			default:
			}
		}
	}
	s.mu.Unlock()

	// Cursor only ever advances.
	for {
		cur := s.lastID.Load()
		if env.EventID <= cur || s.lastID.CompareAndSwap(cur, env.EventID) {
			break
		}
	}

	select {
	case s.out <- env:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// classifyClose inspects a read/dial error's close status. Normal closure
// ends the stream cleanly (nil), the unauthorised code ends it with
// ErrUnauthorized, everything else is retryable.
func (s *Stream) classifyClose(err error) error {
	switch websocket.CloseStatus(err) {
	case events.StatusNormal:
		return nil
	case events.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return err
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// streamURL derives the WebSocket endpoint from the hub base URL.
func streamURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse hub URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
