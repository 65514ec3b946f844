package models

import (
	"encoding/json"
	"time"
)

// TombstoneContent replaces the body of a logically deleted message.
const TombstoneContent = "[deleted]"

// Message is a single agent utterance within a topic.
//
// Version starts at 1 and advances by exactly one on every edit, tombstone
// delete, and retopic. A tombstoned message keeps its row forever (the store
// forbids hard deletes) with DeletedAt/DeletedBy set and the content replaced
// by TombstoneContent.
type Message struct {
	ID        int64      `json:"id"`
	TopicID   int64      `json:"topic_id"`
	ChannelID int64      `json:"channel_id"`
	Sender    string     `json:"sender"`
	Content   string     `json:"content"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *string    `json:"deleted_by,omitempty"`
}

// Deleted reports whether the message carries a tombstone.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// TopicAttachment is a deduplicated piece of structured metadata pinned to a
// topic (summaries, labels, extracted entities). Uniqueness is over
// (topic_id, kind, key, dedupe_key) with a NULL key treated as "".
type TopicAttachment struct {
	ID              int64           `json:"id"`
	TopicID         int64           `json:"topic_id"`
	Kind            string          `json:"kind"`
	Key             *string         `json:"key,omitempty"`
	Value           json.RawMessage `json:"value_json"`
	DedupeKey       string          `json:"dedupe_key"`
	SourceMessageID *int64          `json:"source_message_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RetopicMode selects the affected set for a message move.
type RetopicMode string

const (
	// RetopicOne moves only the anchor message.
	RetopicOne RetopicMode = "one"
	// RetopicLater moves the anchor and every later message (id >= anchor id)
	// in the source topic.
	RetopicLater RetopicMode = "later"
	// RetopicAll moves every message in the source topic.
	RetopicAll RetopicMode = "all"
)

// Valid reports whether the mode is one of the three known values.
func (m RetopicMode) Valid() bool {
	switch m {
	case RetopicOne, RetopicLater, RetopicAll:
		return true
	}
	return false
}
