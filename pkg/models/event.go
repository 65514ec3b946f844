package models

import (
	"encoding/json"
	"time"
)

// Scope is the routing tuple attached to every event. Fields are nullable:
// a name outside the known-event catalog may carry any subset.
type Scope struct {
	ChannelID *int64 `json:"channel_id,omitempty"`
	TopicID   *int64 `json:"topic_id,omitempty"`
	TopicID2  *int64 `json:"topic_id2,omitempty"`
}

// EntityRef identifies the entity an event is about. The id is serialised as
// a string on the wire so non-numeric producers can extend the log.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Envelope is the wire form of one committed event, delivered identically in
// the replay and live phases. Data round-trips verbatim: the log stores it as
// opaque JSON and never re-encodes it.
type Envelope struct {
	Type    string          `json:"type"`
	EventID int64           `json:"event_id"`
	TS      time.Time       `json:"ts"`
	Name    string          `json:"name"`
	Scope   Scope           `json:"scope"`
	Entity  *EntityRef      `json:"entity,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// DecodeData unmarshals the opaque payload into a typed view. Unknown event
// names stay accessible through a plain map.
func (e *Envelope) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Int64 returns a pointer to v, for optional scope fields.
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v, for optional string fields.
func String(v string) *string { return &v }
