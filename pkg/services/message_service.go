package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/models"
	"github.com/relaykit/relay/pkg/store"
)

// MessageService is the message half of the mutation kernel: send, edit,
// tombstone delete, and retopic, each committed atomically with its events.
type MessageService struct {
	base
}

// NewMessageService creates a MessageService.
func NewMessageService(st *store.Store, notifier Notifier) *MessageService {
	return &MessageService{base{store: st, notifier: notifier}}
}

// Send inserts a message with version 1 and emits message.created.
func (s *MessageService) Send(ctx context.Context, topicID int64, sender, content string) (*MessageResult, error) {
	if sender == "" {
		return nil, NewValidationError("sender", "must not be empty")
	}
	if len(content) > MaxContentBytes {
		return nil, &PayloadTooLargeError{Field: "content", Limit: MaxContentBytes, Size: len(content)}
	}

	var res MessageResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		topic, err := topicForUpdate(ctx, tx, topicID)
		if err != nil {
			return err
		}

		createdAt := now()
		ins, err := tx.ExecContext(ctx,
			`INSERT INTO messages (topic_id, channel_id, sender, content_raw, version, created_at)
			 VALUES (?, ?, ?, ?, 1, ?)`,
			topicID, topic.ChannelID, sender, content, fmtTime(createdAt),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return fmt.Errorf("read message id: %w", err)
		}

		eventID, err := insertEvent(ctx, tx, events.Record{
			Name:   events.EventMessageCreated,
			Scope:  models.Scope{ChannelID: &topic.ChannelID, TopicID: &topicID},
			Entity: models.EntityRef{Type: "message", ID: strconv.FormatInt(id, 10)},
			Data: events.MessageCreatedData{
				MessageID: id,
				TopicID:   topicID,
				ChannelID: topic.ChannelID,
				Sender:    sender,
				Content:   content,
			},
		})
		if err != nil {
			return err
		}

		res = MessageResult{
			Message: models.Message{
				ID: id, TopicID: topicID, ChannelID: topic.ChannelID,
				Sender: sender, Content: content, Version: 1, CreatedAt: createdAt,
			},
			EventID: eventID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Edit replaces a message's content, bumping its version by one. With
// expectedVersion set, a stale caller gets VersionConflictError carrying the
// current version and no event is emitted. Editing a tombstoned message is
// allowed; the tombstone markers are preserved.
func (s *MessageService) Edit(ctx context.Context, messageID int64, newContent string, expectedVersion *int64) (*MessageResult, error) {
	if len(newContent) > MaxContentBytes {
		return nil, &PayloadTooLargeError{Field: "content", Limit: MaxContentBytes, Size: len(newContent)}
	}

	var res MessageResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		msg, err := messageForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != msg.Version {
			return &VersionConflictError{CurrentVersion: msg.Version}
		}

		oldContent := msg.Content
		newVersion := msg.Version + 1
		editedAt := now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET content_raw = ?, version = ?, edited_at = ? WHERE id = ?`,
			newContent, newVersion, fmtTime(editedAt), messageID,
		); err != nil {
			return fmt.Errorf("update message: %w", err)
		}

		eventID, err := insertEvent(ctx, tx, events.Record{
			Name:   events.EventMessageEdited,
			Scope:  models.Scope{ChannelID: &msg.ChannelID, TopicID: &msg.TopicID},
			Entity: models.EntityRef{Type: "message", ID: strconv.FormatInt(messageID, 10)},
			Data: events.MessageEditedData{
				MessageID:  messageID,
				OldContent: oldContent,
				NewContent: newContent,
				Version:    newVersion,
			},
		})
		if err != nil {
			return err
		}

		msg.Content = newContent
		msg.Version = newVersion
		msg.EditedAt = &editedAt
		res = MessageResult{Message: *msg, EventID: eventID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete tombstones a message: content replaced, markers set, version
// bumped, message.deleted emitted. A second delete is idempotent: it returns
// the current state with a nil event id, keeps the first deleted_by, and
// emits nothing.
func (s *MessageService) Delete(ctx context.Context, messageID int64, actor string, expectedVersion *int64) (*DeleteResult, error) {
	if actor == "" {
		return nil, NewValidationError("actor", "must not be empty")
	}

	var res DeleteResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		msg, err := messageForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if msg.Deleted() {
			res = DeleteResult{Message: *msg}
			return nil
		}
		if expectedVersion != nil && *expectedVersion != msg.Version {
			return &VersionConflictError{CurrentVersion: msg.Version}
		}

		newVersion := msg.Version + 1
		deletedAt := now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages
			 SET content_raw = ?, version = ?, edited_at = ?, deleted_at = ?, deleted_by = ?
			 WHERE id = ?`,
			models.TombstoneContent, newVersion, fmtTime(deletedAt), fmtTime(deletedAt), actor, messageID,
		); err != nil {
			return fmt.Errorf("tombstone message: %w", err)
		}

		eventID, err := insertEvent(ctx, tx, events.Record{
			Name:   events.EventMessageDeleted,
			Scope:  models.Scope{ChannelID: &msg.ChannelID, TopicID: &msg.TopicID},
			Entity: models.EntityRef{Type: "message", ID: strconv.FormatInt(messageID, 10)},
			Data: events.MessageDeletedData{
				MessageID: messageID,
				DeletedBy: actor,
				Version:   newVersion,
			},
		})
		if err != nil {
			return err
		}

		msg.Content = models.TombstoneContent
		msg.Version = newVersion
		msg.EditedAt = &deletedAt
		msg.DeletedAt = &deletedAt
		msg.DeletedBy = &actor
		res = DeleteResult{Message: *msg, EventID: &eventID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Retopic moves one or more messages to another topic in the same channel.
// The affected set depends on mode: the anchor alone, the anchor and every
// later message in the source topic, or the whole source topic, always in
// ascending message-id order. Each move bumps the message version and emits
// message.moved_topic scoped to both topics. Moving onto the current topic
// is an idempotent no-op. A target in another channel fails with
// ErrCrossChannelMove.
func (s *MessageService) Retopic(ctx context.Context, anchorID, toTopicID int64, mode models.RetopicMode, expectedVersion *int64) (*RetopicResult, error) {
	if !mode.Valid() {
		return nil, NewValidationError("mode", "must be one, later, or all")
	}

	var res RetopicResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		anchor, err := messageForUpdate(ctx, tx, anchorID)
		if err != nil {
			return err
		}
		target, err := topicForUpdate(ctx, tx, toTopicID)
		if err != nil {
			return err
		}
		if target.ChannelID != anchor.ChannelID {
			return fmt.Errorf("topic %d is in channel %d, message %d is in channel %d: %w",
				toTopicID, target.ChannelID, anchorID, anchor.ChannelID, ErrCrossChannelMove)
		}
		if anchor.TopicID == toTopicID {
			res = RetopicResult{}
			return nil
		}
		if expectedVersion != nil && *expectedVersion != anchor.Version {
			return &VersionConflictError{CurrentVersion: anchor.Version}
		}

		affected, err := affectedMessages(ctx, tx, anchor, mode)
		if err != nil {
			return err
		}

		oldTopicID := anchor.TopicID
		eventIDs := make([]int64, 0, len(affected))
		for _, m := range affected {
			newVersion := m.Version + 1
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET topic_id = ?, version = ? WHERE id = ?`,
				toTopicID, newVersion, m.ID,
			); err != nil {
				return fmt.Errorf("move message %d: %w", m.ID, err)
			}

			eventID, err := insertEvent(ctx, tx, events.Record{
				Name: events.EventMessageMovedTopic,
				Scope: models.Scope{
					ChannelID: &anchor.ChannelID,
					TopicID:   &oldTopicID,
					TopicID2:  &toTopicID,
				},
				Entity: models.EntityRef{Type: "message", ID: strconv.FormatInt(m.ID, 10)},
				Data: events.MessageMovedTopicData{
					MessageID:  m.ID,
					OldTopicID: oldTopicID,
					NewTopicID: toTopicID,
					ChannelID:  anchor.ChannelID,
					Mode:       string(mode),
					Version:    newVersion,
				},
			})
			if err != nil {
				return err
			}
			eventIDs = append(eventIDs, eventID)
		}

		res = RetopicResult{AffectedCount: len(affected), EventIDs: eventIDs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns one message by id, tombstoned or not.
func (s *MessageService) Get(ctx context.Context, id int64) (*models.Message, error) {
	row := s.read().QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

// List returns up to limit messages of a topic with id > afterID, in id
// order. Tombstoned rows are included; callers inspect the markers.
func (s *MessageService) List(ctx context.Context, topicID, afterID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.read().QueryContext(ctx,
		messageSelect+` WHERE topic_id = ? AND id > ? ORDER BY id LIMIT ?`,
		topicID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

const messageSelect = `SELECT id, topic_id, channel_id, sender, content_raw, version,
	created_at, edited_at, deleted_at, deleted_by FROM messages`

// affectedMessages resolves the retopic mode to a concrete ordered set
// inside the write transaction.
func affectedMessages(ctx context.Context, tx *sql.Tx, anchor *models.Message, mode models.RetopicMode) ([]models.Message, error) {
	if mode == models.RetopicOne {
		return []models.Message{*anchor}, nil
	}

	query := messageSelect + ` WHERE topic_id = ? ORDER BY id`
	args := []any{anchor.TopicID}
	if mode == models.RetopicLater {
		query = messageSelect + ` WHERE topic_id = ? AND id >= ? ORDER BY id`
		args = append(args, anchor.ID)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select affected messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select affected messages: %w", err)
	}
	return out, nil
}

// messageForUpdate loads a message inside the caller's write transaction.
func messageForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Message, error) {
	row := tx.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

func scanMessage(r rowScanner) (*models.Message, error) {
	var (
		msg       models.Message
		createdAt string
		editedAt  sql.NullString
		deletedAt sql.NullString
		deletedBy sql.NullString
	)
	if err := r.Scan(&msg.ID, &msg.TopicID, &msg.ChannelID, &msg.Sender, &msg.Content,
		&msg.Version, &createdAt, &editedAt, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	var err error
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t, err := parseTime(editedAt.String)
		if err != nil {
			return nil, err
		}
		msg.EditedAt = &t
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		msg.DeletedAt = &t
	}
	if deletedBy.Valid {
		msg.DeletedBy = &deletedBy.String
	}
	return &msg, nil
}
