package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/models"
)

// seedMessage sends one message and returns its id.
func seedMessage(t *testing.T, f *fixture, topicID int64, sender, content string) int64 {
	t.Helper()
	res, err := f.messages.Send(context.Background(), topicID, sender, content)
	require.NoError(t, err)
	return res.Message.ID
}

func TestMessageSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	res, err := f.messages.Send(ctx, topicID, "agent-a", "hello world")
	require.NoError(t, err)
	assert.Equal(t, topicID, res.Message.TopicID)
	assert.Equal(t, channelID, res.Message.ChannelID)
	assert.EqualValues(t, 1, res.Message.Version)
	assert.False(t, res.Message.Deleted())
	assert.Equal(t, events.EventMessageCreated, f.eventName(t, res.EventID))
}

func TestMessageSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	_, err := f.messages.Send(ctx, topicID, "", "hi")
	var validErr *ValidationError
	require.ErrorAs(t, err, &validErr)

	_, err = f.messages.Send(ctx, topicID, "agent-a", strings.Repeat("x", MaxContentBytes+1))
	var tooLarge *PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, "content", tooLarge.Field)

	_, err = f.messages.Send(ctx, 999, "agent-a", "hi")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMessageEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")
	msgID := seedMessage(t, f, topicID, "agent-a", "draft")

	res, err := f.messages.Edit(ctx, msgID, "final", nil)
	require.NoError(t, err)
	assert.Equal(t, "final", res.Message.Content)
	assert.EqualValues(t, 2, res.Message.Version)
	require.NotNil(t, res.Message.EditedAt)
	assert.Equal(t, events.EventMessageEdited, f.eventName(t, res.EventID))

	var data struct {
		OldContent string `json:"old_content"`
		NewContent string `json:"new_content"`
	}
	var raw string
	require.NoError(t, f.st.ReadDB().QueryRow(
		`SELECT data FROM events WHERE event_id = ?`, res.EventID).Scan(&raw))
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	assert.Equal(t, "draft", data.OldContent)
	assert.Equal(t, "final", data.NewContent)
}

func TestMessageEditVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")
	msgID := seedMessage(t, f, topicID, "agent-a", "v1")

	// First writer wins.
	_, err := f.messages.Edit(ctx, msgID, "v2", models.Int64(1))
	require.NoError(t, err)

	// Stale writer loses and learns the current version.
	_, err = f.messages.Edit(ctx, msgID, "v2-stale", models.Int64(1))
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.EqualValues(t, 2, conflict.CurrentVersion)

	// No event was appended for the failed edit.
	got, err := f.messages.Get(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
}

func TestMessageEditTombstonedPreservesMarkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")
	msgID := seedMessage(t, f, topicID, "agent-a", "secret")

	_, err := f.messages.Delete(ctx, msgID, "moderator", nil)
	require.NoError(t, err)

	res, err := f.messages.Edit(ctx, msgID, "redacted differently", nil)
	require.NoError(t, err)
	assert.Equal(t, "redacted differently", res.Message.Content)
	assert.True(t, res.Message.Deleted())
	require.NotNil(t, res.Message.DeletedBy)
	assert.Equal(t, "moderator", *res.Message.DeletedBy)
}

func TestMessageDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")
	msgID := seedMessage(t, f, topicID, "agent-a", "oops")

	res, err := f.messages.Delete(ctx, msgID, "moderator", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TombstoneContent, res.Message.Content)
	assert.EqualValues(t, 2, res.Message.Version)
	assert.True(t, res.Message.Deleted())
	require.NotNil(t, res.EventID)
	assert.Equal(t, events.EventMessageDeleted, f.eventName(t, *res.EventID))
}

func TestMessageDeleteIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")
	msgID := seedMessage(t, f, topicID, "agent-a", "oops")

	first, err := f.messages.Delete(ctx, msgID, "moderator", nil)
	require.NoError(t, err)
	before := f.eventCount(t)

	second, err := f.messages.Delete(ctx, msgID, "someone-else", nil)
	require.NoError(t, err)
	assert.Nil(t, second.EventID)
	assert.Equal(t, before, f.eventCount(t), "repeat delete emits nothing")
	assert.Equal(t, first.Message.Version, second.Message.Version)

	// The first actor is preserved.
	require.NotNil(t, second.Message.DeletedBy)
	assert.Equal(t, "moderator", *second.Message.DeletedBy)
}

func TestMessageDeleteVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")
	msgID := seedMessage(t, f, topicID, "agent-a", "v1")

	_, err := f.messages.Edit(ctx, msgID, "v2", nil)
	require.NoError(t, err)

	_, err = f.messages.Delete(ctx, msgID, "moderator", models.Int64(1))
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.EqualValues(t, 2, conflict.CurrentVersion)
}

func TestMessageListIncludesTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	keep := seedMessage(t, f, topicID, "agent-a", "keep")
	gone := seedMessage(t, f, topicID, "agent-a", "gone")
	_, err := f.messages.Delete(ctx, gone, "moderator", nil)
	require.NoError(t, err)

	list, err := f.messages.List(ctx, topicID, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, keep, list[0].ID)
	assert.False(t, list[0].Deleted())
	assert.Equal(t, gone, list[1].ID)
	assert.True(t, list[1].Deleted())
	assert.Equal(t, models.TombstoneContent, list[1].Content)
}

func TestMessageListPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, seedMessage(t, f, topicID, "agent-a", "m"))
	}

	page, err := f.messages.List(ctx, topicID, ids[1], 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)
}
