package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributorDeliversInOrder(t *testing.T) {
	st := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDistributor(st.ReadDB(), nil)
	require.NoError(t, d.Start(ctx))

	s := newSession(ctx, nil, nil, 64)
	d.register(s)
	defer d.unregister(s.id)

	var want []int64
	for i := 0; i < 5; i++ {
		want = append(want, insertTestEvent(t, st, messageRecord(1, 10)))
		d.Notify()
	}

	var got []int64
	for len(got) < 5 {
		select {
		case env := <-s.buf:
			got = append(got, env.EventID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	assert.Equal(t, want, got)
}

func TestDistributorCoalescesNotifications(t *testing.T) {
	st := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDistributor(st.ReadDB(), nil)
	require.NoError(t, d.Start(ctx))

	s := newSession(ctx, nil, nil, 64)
	d.register(s)

	// Many commits, one wakeup: the drain must still deliver everything.
	for i := 0; i < 10; i++ {
		insertTestEvent(t, st, messageRecord(1, 10))
	}
	d.Notify()

	var got []int64
	for len(got) < 10 {
		select {
		case env := <-s.buf:
			got = append(got, env.EventID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
}

func TestDistributorFiltersBySubscription(t *testing.T) {
	st := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDistributor(st.ReadDB(), nil)
	require.NoError(t, d.Start(ctx))

	only20 := newSession(ctx, nil, &Subscription{Topics: []int64{20}}, 64)
	d.register(only20)

	insertTestEvent(t, st, messageRecord(1, 10))
	match := insertTestEvent(t, st, messageRecord(2, 20))
	d.Notify()

	select {
	case env := <-only20.buf:
		assert.Equal(t, match, env.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for matching event")
	}

	select {
	case env := <-only20.buf:
		t.Fatalf("unexpected extra event %d", env.EventID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDistributorKicksSlowSession(t *testing.T) {
	st := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDistributor(st.ReadDB(), nil)
	require.NoError(t, d.Start(ctx))

	// Buffer of one and no consumer: the second event overflows.
	s := newSession(ctx, nil, nil, 1)
	d.register(s)

	insertTestEvent(t, st, messageRecord(1, 10))
	insertTestEvent(t, st, messageRecord(1, 10))
	d.Notify()

	select {
	case <-s.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow session was not kicked")
	}
	status, reason := s.closeState()
	assert.Equal(t, StatusPolicyViolation, status)
	assert.Contains(t, reason, "buffer overflow")
}

func TestDistributorIgnoresEventsBeforeStart(t *testing.T) {
	st := openTestStore(t)

	// Committed before Start: reachable only through replay.
	insertTestEvent(t, st, messageRecord(1, 10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDistributor(st.ReadDB(), nil)
	require.NoError(t, d.Start(ctx))

	s := newSession(ctx, nil, nil, 64)
	d.register(s)
	d.Notify()

	select {
	case env := <-s.buf:
		t.Fatalf("unexpected pre-start event %d", env.EventID)
	case <-time.After(100 * time.Millisecond):
	}

	live := insertTestEvent(t, st, messageRecord(1, 10))
	d.Notify()
	select {
	case env := <-s.buf:
		assert.Equal(t, live, env.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event")
	}
}
