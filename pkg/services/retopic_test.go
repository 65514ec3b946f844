package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/models"
)

// retopicFixture seeds one channel with a source topic holding three
// messages, plus an empty target topic in the same channel.
type retopicFixture struct {
	*fixture
	channelID int64
	source    int64
	target    int64
	msgs      []int64
}

func newRetopicFixture(t *testing.T) *retopicFixture {
	f := newFixture(t)
	channelID := seedChannel(t, f, "general")
	source := seedTopic(t, f, channelID, "source")
	target := seedTopic(t, f, channelID, "target")

	var msgs []int64
	for _, content := range []string{"first", "second", "third"} {
		msgs = append(msgs, seedMessage(t, f, source, "agent-a", content))
	}
	return &retopicFixture{fixture: f, channelID: channelID, source: source, target: target, msgs: msgs}
}

func (f *retopicFixture) topicOf(t *testing.T, msgID int64) int64 {
	t.Helper()
	msg, err := f.messages.Get(context.Background(), msgID)
	require.NoError(t, err)
	return msg.TopicID
}

func TestRetopicModeOne(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()

	res, err := f.messages.Retopic(ctx, f.msgs[1], f.target, models.RetopicOne, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedCount)
	require.Len(t, res.EventIDs, 1)
	assert.Equal(t, events.EventMessageMovedTopic, f.eventName(t, res.EventIDs[0]))

	assert.Equal(t, f.source, f.topicOf(t, f.msgs[0]))
	assert.Equal(t, f.target, f.topicOf(t, f.msgs[1]))
	assert.Equal(t, f.source, f.topicOf(t, f.msgs[2]))

	moved, err := f.messages.Get(ctx, f.msgs[1])
	require.NoError(t, err)
	assert.EqualValues(t, 2, moved.Version)
}

func TestRetopicModeLater(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()

	res, err := f.messages.Retopic(ctx, f.msgs[1], f.target, models.RetopicLater, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.AffectedCount)
	require.Len(t, res.EventIDs, 2)
	assert.Less(t, res.EventIDs[0], res.EventIDs[1], "events follow message id order")

	assert.Equal(t, f.source, f.topicOf(t, f.msgs[0]))
	assert.Equal(t, f.target, f.topicOf(t, f.msgs[1]))
	assert.Equal(t, f.target, f.topicOf(t, f.msgs[2]))
}

func TestRetopicModeAll(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()

	// The anchor's position is irrelevant for mode all.
	res, err := f.messages.Retopic(ctx, f.msgs[2], f.target, models.RetopicAll, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.AffectedCount)
	require.Len(t, res.EventIDs, 3)

	for _, id := range f.msgs {
		assert.Equal(t, f.target, f.topicOf(t, id))
	}
}

func TestRetopicEventScopesBothTopics(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()

	res, err := f.messages.Retopic(ctx, f.msgs[0], f.target, models.RetopicOne, nil)
	require.NoError(t, err)

	var chID, topicID, topicID2 int64
	require.NoError(t, f.st.ReadDB().QueryRowContext(ctx,
		`SELECT channel_id, topic_id, topic_id2 FROM events WHERE event_id = ?`,
		res.EventIDs[0]).Scan(&chID, &topicID, &topicID2))
	assert.Equal(t, f.channelID, chID)
	assert.Equal(t, f.source, topicID)
	assert.Equal(t, f.target, topicID2)
}

func TestRetopicSameTopicIsNoOp(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()
	before := f.eventCount(t)

	res, err := f.messages.Retopic(ctx, f.msgs[0], f.source, models.RetopicLater, nil)
	require.NoError(t, err)
	assert.Zero(t, res.AffectedCount)
	assert.Empty(t, res.EventIDs)
	assert.Equal(t, before, f.eventCount(t))

	// Versions untouched.
	msg, err := f.messages.Get(ctx, f.msgs[0])
	require.NoError(t, err)
	assert.EqualValues(t, 1, msg.Version)
}

func TestRetopicCrossChannelRejected(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()

	otherChannel := seedChannel(t, f.fixture, "incidents")
	otherTopic := seedTopic(t, f.fixture, otherChannel, "elsewhere")

	_, err := f.messages.Retopic(ctx, f.msgs[0], otherTopic, models.RetopicOne, nil)
	require.ErrorIs(t, err, ErrCrossChannelMove)

	// Nothing moved.
	assert.Equal(t, f.source, f.topicOf(t, f.msgs[0]))
}

func TestRetopicVersionConflict(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()

	_, err := f.messages.Edit(ctx, f.msgs[0], "edited", nil)
	require.NoError(t, err)

	_, err = f.messages.Retopic(ctx, f.msgs[0], f.target, models.RetopicOne, models.Int64(1))
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.EqualValues(t, 2, conflict.CurrentVersion)
}

func TestRetopicInvalidInputs(t *testing.T) {
	f := newRetopicFixture(t)
	ctx := context.Background()

	_, err := f.messages.Retopic(ctx, f.msgs[0], f.target, "sideways", nil)
	var validErr *ValidationError
	require.ErrorAs(t, err, &validErr)

	_, err = f.messages.Retopic(ctx, 999, f.target, models.RetopicOne, nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.messages.Retopic(ctx, f.msgs[0], 999, models.RetopicOne, nil)
	require.ErrorIs(t, err, ErrNotFound)
}
