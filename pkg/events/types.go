// Package events implements the append-only event log and its delivery
// paths: the single insert entry point, the scope-indexed replay query, the
// committed-events distributor, and the WebSocket session protocol
// (handshake, replay phase, live phase).
package events

import (
	"github.com/coder/websocket"

	"github.com/relaykit/relay/pkg/models"
)

// Known event names. The catalog below pins the scope fields each one must
// carry; unknown names are accepted without scope checks so additive
// producers can extend the log.
const (
	EventChannelCreated       = "channel.created"
	EventTopicCreated         = "topic.created"
	EventTopicRenamed         = "topic.renamed"
	EventTopicAttachmentAdded = "topic.attachment_added"
	EventMessageCreated       = "message.created"
	EventMessageEdited        = "message.edited"
	EventMessageDeleted       = "message.deleted"
	EventMessageEnriched      = "message.enriched"
	EventMessageMovedTopic    = "message.moved_topic"
)

// scopeRequirement lists which scope fields a known event name must carry.
type scopeRequirement struct {
	channel bool
	topic   bool
	topic2  bool
}

var knownEvents = map[string]scopeRequirement{
	EventChannelCreated:       {channel: true},
	EventTopicCreated:         {channel: true, topic: true},
	EventTopicRenamed:         {channel: true, topic: true},
	EventTopicAttachmentAdded: {channel: true, topic: true},
	EventMessageCreated:       {channel: true, topic: true},
	EventMessageEdited:        {channel: true, topic: true},
	EventMessageDeleted:       {channel: true, topic: true},
	EventMessageEnriched:      {channel: true, topic: true},
	EventMessageMovedTopic:    {channel: true, topic: true, topic2: true},
}

// Frame type discriminators for the WebSocket wire protocol.
const (
	FrameHello   = "hello"
	FrameHelloOK = "hello_ok"
	FrameEvent   = "event"
)

// Close codes. Clients reconnect on everything except normal closure and
// unauthorised.
const (
	StatusNormal          = websocket.StatusNormalClosure
	StatusGoingAway       = websocket.StatusGoingAway
	StatusPolicyViolation = websocket.StatusPolicyViolation
	StatusInternalError   = websocket.StatusInternalError

	// StatusUnauthorized terminates the handshake before a session exists.
	// Clients must not reconnect.
	StatusUnauthorized websocket.StatusCode = 4401
)

// Subscription declares the scope filter for one session. Empty (or nil)
// matches every event.
type Subscription struct {
	Channels []int64 `json:"channels,omitempty"`
	Topics   []int64 `json:"topics,omitempty"`
}

// Empty reports whether the subscription matches all events.
func (s *Subscription) Empty() bool {
	return s == nil || (len(s.Channels) == 0 && len(s.Topics) == 0)
}

// Matches applies the scope routing rule: a channel match on scope.channel_id,
// or a topic match on either scope.topic_id or scope.topic_id2. A session
// following one topic therefore sees both sides of a message move.
func (s *Subscription) Matches(scope models.Scope) bool {
	if s.Empty() {
		return true
	}
	if scope.ChannelID != nil {
		for _, id := range s.Channels {
			if id == *scope.ChannelID {
				return true
			}
		}
	}
	for _, id := range s.Topics {
		if scope.TopicID != nil && id == *scope.TopicID {
			return true
		}
		if scope.TopicID2 != nil && id == *scope.TopicID2 {
			return true
		}
	}
	return false
}

// HelloFrame is the single client → server handshake frame.
type HelloFrame struct {
	Type          string        `json:"type"`
	AfterEventID  int64         `json:"after_event_id"`
	Subscriptions *Subscription `json:"subscriptions,omitempty"`
}

// HelloOKFrame acknowledges the handshake and freezes the replay boundary.
type HelloOKFrame struct {
	Type        string `json:"type"`
	ReplayUntil int64  `json:"replay_until"`
	InstanceID  string `json:"instance_id"`
}
