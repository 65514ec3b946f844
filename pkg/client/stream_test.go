package client

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/models"
)

func newTestStream(t *testing.T) *Stream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default(),
		out:     make(chan models.Envelope, streamBuffer),
		done:    make(chan struct{}),
		seen:    make(map[int64]struct{}),
		waiters: make(map[int]*waiter),
	}
	t.Cleanup(cancel)
	return s
}

func envelope(id int64) models.Envelope {
	return models.Envelope{Type: events.FrameEvent, EventID: id, Name: events.EventMessageCreated}
}

func TestDeliverDropsDuplicates(t *testing.T) {
	s := newTestStream(t)

	require.True(t, s.deliver(envelope(1)))
	require.True(t, s.deliver(envelope(2)))
	require.True(t, s.deliver(envelope(1)))
	require.True(t, s.deliver(envelope(2)))
	require.True(t, s.deliver(envelope(3)))

	var got []int64
	for len(got) < 3 {
		select {
		case env := <-s.out:
			got = append(got, env.EventID)
		default:
			t.Fatalf("expected 3 events, got %v", got)
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
	select {
	case env := <-s.out:
		t.Fatalf("unexpected duplicate %d", env.EventID)
	default:
	}
}

func TestDeliverCursorNeverRegresses(t *testing.T) {
	s := newTestStream(t)

	s.deliver(envelope(5))
	assert.EqualValues(t, 5, s.LastEventID())

	// A redelivered older id must not pull the cursor back.
	s.deliver(envelope(3))
	assert.EqualValues(t, 5, s.LastEventID())

	s.deliver(envelope(8))
	assert.EqualValues(t, 8, s.LastEventID())
}

func TestDeliverWindowTrimsOlderHalf(t *testing.T) {
	s := newTestStream(t)

	for i := int64(1); i <= dedupWindow+1; i++ {
		require.True(t, s.deliver(envelope(i)))
		// Drain so the buffered channel never blocks.
		<-s.out
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.LessOrEqual(t, len(s.seen), dedupWindow)
	// The oldest ids were evicted, the newest kept.
	_, oldKept := s.seen[1]
	assert.False(t, oldKept)
	_, newKept := s.seen[dedupWindow+1]
	assert.True(t, newKept)
}

func TestWaitForEventReceivesCopy(t *testing.T) {
	s := newTestStream(t)

	type result struct {
		env *models.Envelope
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		env, err := s.WaitForEvent(context.Background(), func(e models.Envelope) bool {
			return e.EventID == 2
		}, 2*time.Second)
		resCh <- result{env, err}
	}()

	// Give the waiter time to register.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	s.deliver(envelope(1))
	s.deliver(envelope(2))

	res := <-resCh
	require.NoError(t, res.err)
	assert.EqualValues(t, 2, res.env.EventID)

	// The waiter did not consume from the main channel.
	assert.EqualValues(t, 1, (<-s.out).EventID)
	assert.EqualValues(t, 2, (<-s.out).EventID)
}

func TestWaitForEventTimeout(t *testing.T) {
	s := newTestStream(t)

	_, err := s.WaitForEvent(context.Background(), func(models.Envelope) bool {
		return false
	}, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestClassifyClose(t *testing.T) {
	s := newTestStream(t)

	normal := fmt.Errorf("read: %w", websocket.CloseError{Code: websocket.StatusNormalClosure})
	assert.NoError(t, s.classifyClose(normal))

	unauth := fmt.Errorf("read: %w", websocket.CloseError{Code: events.StatusUnauthorized})
	assert.ErrorIs(t, s.classifyClose(unauth), ErrUnauthorized)

	goingAway := fmt.Errorf("read: %w", websocket.CloseError{Code: websocket.StatusGoingAway})
	assert.Error(t, s.classifyClose(goingAway))
	assert.NotErrorIs(t, s.classifyClose(goingAway), ErrUnauthorized)
}

func TestStreamURL(t *testing.T) {
	u, err := streamURL("http://127.0.0.1:7421", "tok")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:7421/ws?token=tok", u)

	u, err = streamURL("https://hub.example", "")
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.example/ws", u)

	_, err = streamURL("ftp://nope", "")
	require.Error(t, err)
}
