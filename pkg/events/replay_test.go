package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay/pkg/models"
	"github.com/relaykit/relay/pkg/store"
)

// seedLog appends events across two channels and three topics:
//
//	id 1..3  channel 1 / topic 10
//	id 4..6  channel 1 / topic 11
//	id 7..9  channel 2 / topic 20
//	id 10    move event scoped to topics 10 and 11
func seedLog(t *testing.T, st *store.Store) {
	t.Helper()
	for i := 0; i < 3; i++ {
		insertTestEvent(t, st, messageRecord(1, 10))
	}
	for i := 0; i < 3; i++ {
		insertTestEvent(t, st, messageRecord(1, 11))
	}
	for i := 0; i < 3; i++ {
		insertTestEvent(t, st, messageRecord(2, 20))
	}
	insertTestEvent(t, st, Record{
		Name: EventMessageMovedTopic,
		Scope: models.Scope{
			ChannelID: models.Int64(1),
			TopicID:   models.Int64(10),
			TopicID2:  models.Int64(11),
		},
		Entity: models.EntityRef{Type: "message", ID: "1"},
	})
}

func TestReplayValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := Replay(ctx, st.ReadDB(), ReplayQuery{AfterEventID: -1, ReplayUntil: 5, Limit: 10})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = Replay(ctx, st.ReadDB(), ReplayQuery{AfterEventID: 5, ReplayUntil: 4, Limit: 10})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = Replay(ctx, st.ReadDB(), ReplayQuery{AfterEventID: 0, ReplayUntil: 5, Limit: 0})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestReplayHalfOpenInterval(t *testing.T) {
	st := openTestStore(t)
	seedLog(t, st)
	ctx := context.Background()

	envs, err := Replay(ctx, st.ReadDB(), ReplayQuery{AfterEventID: 3, ReplayUntil: 7, Limit: 100})
	require.NoError(t, err)

	ids := envelopeIDs(envs)
	// after is exclusive, until inclusive
	assert.Equal(t, []int64{4, 5, 6, 7}, ids)
}

func TestReplayOrderedAndDeterministic(t *testing.T) {
	st := openTestStore(t)
	seedLog(t, st)
	ctx := context.Background()

	q := ReplayQuery{AfterEventID: 0, ReplayUntil: 10, Limit: 100}
	first, err := Replay(ctx, st.ReadDB(), q)
	require.NoError(t, err)
	require.Len(t, first, 10)

	for i := 1; i < len(first); i++ {
		assert.Greater(t, first[i].EventID, first[i-1].EventID)
	}

	// Same query, same committed set, same bytes.
	second, err := Replay(ctx, st.ReadDB(), q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReplayBoundaryExcludesLaterCommits(t *testing.T) {
	st := openTestStore(t)
	seedLog(t, st)
	ctx := context.Background()

	boundary, err := MaxEventID(ctx, st.ReadDB())
	require.NoError(t, err)

	// Commit past the boundary, then replay up to it.
	insertTestEvent(t, st, messageRecord(1, 10))
	insertTestEvent(t, st, messageRecord(1, 10))

	envs, err := Replay(ctx, st.ReadDB(), ReplayQuery{AfterEventID: 0, ReplayUntil: boundary, Limit: 100})
	require.NoError(t, err)
	require.NotEmpty(t, envs)
	assert.Equal(t, boundary, envs[len(envs)-1].EventID)
}

func TestReplayScopeFilter(t *testing.T) {
	st := openTestStore(t)
	seedLog(t, st)
	ctx := context.Background()

	t.Run("channel filter", func(t *testing.T) {
		envs, err := Replay(ctx, st.ReadDB(), ReplayQuery{
			AfterEventID: 0, ReplayUntil: 10, ChannelIDs: []int64{2}, Limit: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{7, 8, 9}, envelopeIDs(envs))
	})

	t.Run("topic filter matches both move sides", func(t *testing.T) {
		// Topic 11 appears as topic_id on 4..6 and as topic_id2 on the move.
		envs, err := Replay(ctx, st.ReadDB(), ReplayQuery{
			AfterEventID: 0, ReplayUntil: 10, TopicIDs: []int64{11}, Limit: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 5, 6, 10}, envelopeIDs(envs))
	})

	t.Run("channel and topic filters compose with OR", func(t *testing.T) {
		envs, err := Replay(ctx, st.ReadDB(), ReplayQuery{
			AfterEventID: 0, ReplayUntil: 10,
			ChannelIDs: []int64{2}, TopicIDs: []int64{10}, Limit: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 7, 8, 9, 10}, envelopeIDs(envs))
	})
}

func TestReplayLimitPages(t *testing.T) {
	st := openTestStore(t)
	seedLog(t, st)
	ctx := context.Background()

	var all []int64
	after := int64(0)
	for {
		envs, err := Replay(ctx, st.ReadDB(), ReplayQuery{
			AfterEventID: after, ReplayUntil: 10, Limit: 3,
		})
		require.NoError(t, err)
		if len(envs) == 0 {
			break
		}
		all = append(all, envelopeIDs(envs)...)
		after = envs[len(envs)-1].EventID
		if len(envs) < 3 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, all)
}

func TestMaxEventIDEmptyLog(t *testing.T) {
	st := openTestStore(t)

	head, err := MaxEventID(context.Background(), st.ReadDB())
	require.NoError(t, err)
	assert.Zero(t, head)
}

func envelopeIDs(envs []models.Envelope) []int64 {
	ids := make([]int64, len(envs))
	for i, e := range envs {
		ids[i] = e.EventID
	}
	return ids
}
