package events

// Typed views over the data object of known events. The log stores data as
// opaque JSON; these structs are the projection layer for consumers that
// switch on the event name. Unknown names round-trip as raw maps via
// Envelope.DecodeData into map[string]any.

// ChannelCreatedData is the payload of channel.created.
type ChannelCreatedData struct {
	ChannelID int64  `json:"channel_id"`
	Name      string `json:"name"`
}

// TopicCreatedData is the payload of topic.created.
type TopicCreatedData struct {
	TopicID   int64  `json:"topic_id"`
	ChannelID int64  `json:"channel_id"`
	Title     string `json:"title"`
}

// TopicRenamedData is the payload of topic.renamed.
type TopicRenamedData struct {
	TopicID  int64  `json:"topic_id"`
	OldTitle string `json:"old_title"`
	NewTitle string `json:"new_title"`
}

// MessageCreatedData is the payload of message.created.
type MessageCreatedData struct {
	MessageID int64  `json:"message_id"`
	TopicID   int64  `json:"topic_id"`
	ChannelID int64  `json:"channel_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
}

// MessageEditedData is the payload of message.edited.
type MessageEditedData struct {
	MessageID  int64  `json:"message_id"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
	Version    int64  `json:"version"`
}

// MessageDeletedData is the payload of message.deleted.
type MessageDeletedData struct {
	MessageID int64  `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
	Version   int64  `json:"version"`
}

// MessageMovedTopicData is the payload of message.moved_topic.
type MessageMovedTopicData struct {
	MessageID  int64  `json:"message_id"`
	OldTopicID int64  `json:"old_topic_id"`
	NewTopicID int64  `json:"new_topic_id"`
	ChannelID  int64  `json:"channel_id"`
	Mode       string `json:"mode"`
	Version    int64  `json:"version"`
}

// AttachmentAddedData is the payload of topic.attachment_added.
type AttachmentAddedData struct {
	AttachmentID    int64   `json:"attachment_id"`
	TopicID         int64   `json:"topic_id"`
	Kind            string  `json:"kind"`
	Key             *string `json:"key,omitempty"`
	DedupeKey       string  `json:"dedupe_key"`
	SourceMessageID *int64  `json:"source_message_id,omitempty"`
}
