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

func TestAttachmentAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")
	msgID := seedMessage(t, f, topicID, "agent-a", "see artifact")

	res, err := f.attach.Add(ctx, AddParams{
		TopicID:         topicID,
		Kind:            "analysis",
		Key:             models.String("summary"),
		Value:           json.RawMessage(`{"score": 0.92}`),
		DedupeKey:       "run-1",
		SourceMessageID: &msgID,
	})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	require.NotNil(t, res.EventID)
	assert.Equal(t, events.EventTopicAttachmentAdded, f.eventName(t, *res.EventID))
	assert.JSONEq(t, `{"score": 0.92}`, string(res.Attachment.Value))
}

func TestAttachmentDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	params := AddParams{
		TopicID:   topicID,
		Kind:      "analysis",
		Key:       models.String("summary"),
		Value:     json.RawMessage(`{"v": 1}`),
		DedupeKey: "run-1",
	}

	first, err := f.attach.Add(ctx, params)
	require.NoError(t, err)
	before := f.eventCount(t)

	// Identical identity: existing row, no event, even with a new value.
	params.Value = json.RawMessage(`{"v": 2}`)
	second, err := f.attach.Add(ctx, params)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Nil(t, second.EventID)
	assert.Equal(t, first.Attachment.ID, second.Attachment.ID)
	assert.JSONEq(t, `{"v": 1}`, string(second.Attachment.Value))
	assert.Equal(t, before, f.eventCount(t))

	// Different dedupe key is a new attachment.
	params.DedupeKey = "run-2"
	third, err := f.attach.Add(ctx, params)
	require.NoError(t, err)
	assert.False(t, third.Deduplicated)
	assert.NotEqual(t, first.Attachment.ID, third.Attachment.ID)
}

func TestAttachmentDedupNilKeyMatchesNilKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	params := AddParams{
		TopicID:   topicID,
		Kind:      "note",
		Value:     json.RawMessage(`{}`),
		DedupeKey: "n-1",
	}
	first, err := f.attach.Add(ctx, params)
	require.NoError(t, err)

	second, err := f.attach.Add(ctx, params)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Attachment.ID, second.Attachment.ID)
}

func TestAttachmentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	var validErr *ValidationError

	_, err := f.attach.Add(ctx, AddParams{TopicID: topicID, DedupeKey: "x", Value: json.RawMessage(`{}`)})
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "kind", validErr.Field)

	_, err = f.attach.Add(ctx, AddParams{TopicID: topicID, Kind: "k", Value: json.RawMessage(`{}`)})
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "dedupe_key", validErr.Field)

	_, err = f.attach.Add(ctx, AddParams{TopicID: topicID, Kind: "k", DedupeKey: "x",
		Value: json.RawMessage(`{not json`)})
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "value", validErr.Field)

	big := `{"p": "` + strings.Repeat("x", MaxAttachmentValueBytes) + `"}`
	var tooLarge *PayloadTooLargeError
	_, err = f.attach.Add(ctx, AddParams{TopicID: topicID, Kind: "k", DedupeKey: "x",
		Value: json.RawMessage(big)})
	require.ErrorAs(t, err, &tooLarge)

	_, err = f.attach.Add(ctx, AddParams{TopicID: 999, Kind: "k", DedupeKey: "x",
		Value: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.attach.Add(ctx, AddParams{TopicID: topicID, Kind: "k", DedupeKey: "x",
		Value: json.RawMessage(`{}`), SourceMessageID: models.Int64(999)})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAttachmentList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := seedChannel(t, f, "general")
	topicID := seedTopic(t, f, channelID, "intro")

	for i, kind := range []string{"analysis", "note", "analysis"} {
		_, err := f.attach.Add(ctx, AddParams{
			TopicID:   topicID,
			Kind:      kind,
			Value:     json.RawMessage(`{}`),
			DedupeKey: string(rune('a' + i)),
		})
		require.NoError(t, err)
	}

	all, err := f.attach.List(ctx, topicID, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	analyses, err := f.attach.List(ctx, topicID, "analysis")
	require.NoError(t, err)
	assert.Len(t, analyses, 2)
}
