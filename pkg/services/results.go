package services

import "github.com/relaykit/relay/pkg/models"

// Per-operation result types. Keeping one small struct per mutation lets the
// HTTP adapter's projection to JSON stay mechanical and future fields stay
// additive.

// ChannelResult is returned by ChannelService.Create.
type ChannelResult struct {
	Channel models.Channel `json:"channel"`
	EventID int64          `json:"event_id"`
}

// TopicResult is returned by TopicService.Create and Rename.
type TopicResult struct {
	Topic   models.Topic `json:"topic"`
	EventID int64        `json:"event_id"`
}

// MessageResult is returned by MessageService.Send and Edit.
type MessageResult struct {
	Message models.Message `json:"message"`
	EventID int64          `json:"event_id"`
}

// DeleteResult is returned by MessageService.Delete. EventID is nil when the
// message was already tombstoned and the call was an idempotent no-op.
type DeleteResult struct {
	Message models.Message `json:"message"`
	EventID *int64         `json:"event_id"`
}

// RetopicResult is returned by MessageService.Retopic. EventIDs holds one
// message.moved_topic id per affected message, in message-id order.
type RetopicResult struct {
	AffectedCount int     `json:"affected_count"`
	EventIDs      []int64 `json:"event_ids"`
}

// AttachmentResult is returned by AttachmentService.Add. On a dedupe hit the
// existing row is returned with a nil EventID and Deduplicated set.
type AttachmentResult struct {
	Attachment   models.TopicAttachment `json:"attachment"`
	EventID      *int64                 `json:"event_id"`
	Deduplicated bool                   `json:"deduplicated,omitempty"`
}
