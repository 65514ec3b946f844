package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/models"
	"github.com/relaykit/relay/pkg/store"
)

// AttachmentService appends structured artifacts to topics. Attachments are
// append-only and deduplicated on (topic, kind, key, dedupe_key).
type AttachmentService struct {
	base
}

// NewAttachmentService creates an AttachmentService.
func NewAttachmentService(st *store.Store, notifier Notifier) *AttachmentService {
	return &AttachmentService{base{store: st, notifier: notifier}}
}

// AddParams carries the fields of one attachment insert.
type AddParams struct {
	TopicID         int64
	Kind            string
	Key             *string
	Value           json.RawMessage
	DedupeKey       string
	SourceMessageID *int64
}

// Add inserts an attachment and emits topic.attachment_added. A second call
// with the same (topic, kind, key, dedupe_key) returns the existing row with
// Deduplicated set and no event.
func (s *AttachmentService) Add(ctx context.Context, p AddParams) (*AttachmentResult, error) {
	if p.Kind == "" {
		return nil, NewValidationError("kind", "must not be empty")
	}
	if p.DedupeKey == "" {
		return nil, NewValidationError("dedupe_key", "must not be empty")
	}
	if len(p.Value) > MaxAttachmentValueBytes {
		return nil, &PayloadTooLargeError{Field: "value", Limit: MaxAttachmentValueBytes, Size: len(p.Value)}
	}
	if !json.Valid(p.Value) {
		return nil, NewValidationError("value", "must be valid JSON")
	}

	var res AttachmentResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		topic, err := topicForUpdate(ctx, tx, p.TopicID)
		if err != nil {
			return err
		}
		if p.SourceMessageID != nil {
			if _, err := messageForUpdate(ctx, tx, *p.SourceMessageID); err != nil {
				return err
			}
		}

		if existing, err := findAttachment(ctx, tx, p); err != nil {
			return err
		} else if existing != nil {
			res = AttachmentResult{Attachment: *existing, Deduplicated: true}
			return nil
		}

		createdAt := now()
		ins, err := tx.ExecContext(ctx,
			`INSERT INTO topic_attachments (topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.TopicID, p.Kind, p.Key, string(p.Value), p.DedupeKey, p.SourceMessageID, fmtTime(createdAt),
		)
		if err != nil {
			// Lost a race with a concurrent identical insert.
			if store.IsUniqueViolation(err) {
				existing, ferr := findAttachment(ctx, tx, p)
				if ferr != nil {
					return ferr
				}
				if existing != nil {
					res = AttachmentResult{Attachment: *existing, Deduplicated: true}
					return nil
				}
			}
			return fmt.Errorf("insert attachment: %w", err)
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return fmt.Errorf("read attachment id: %w", err)
		}

		eventID, err := insertEvent(ctx, tx, events.Record{
			Name:   events.EventTopicAttachmentAdded,
			Scope:  models.Scope{ChannelID: &topic.ChannelID, TopicID: &p.TopicID},
			Entity: models.EntityRef{Type: "attachment", ID: strconv.FormatInt(id, 10)},
			Data: events.AttachmentAddedData{
				AttachmentID:    id,
				TopicID:         p.TopicID,
				Kind:            p.Kind,
				Key:             p.Key,
				DedupeKey:       p.DedupeKey,
				SourceMessageID: p.SourceMessageID,
			},
		})
		if err != nil {
			return err
		}

		res = AttachmentResult{
			Attachment: models.TopicAttachment{
				ID: id, TopicID: p.TopicID, Kind: p.Kind, Key: p.Key,
				Value: p.Value, DedupeKey: p.DedupeKey,
				SourceMessageID: p.SourceMessageID, CreatedAt: createdAt,
			},
			EventID: &eventID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// List returns a topic's attachments in insertion order, optionally filtered
// by kind.
func (s *AttachmentService) List(ctx context.Context, topicID int64, kind string) ([]models.TopicAttachment, error) {
	query := attachmentSelect + ` WHERE topic_id = ? ORDER BY id`
	args := []any{topicID}
	if kind != "" {
		query = attachmentSelect + ` WHERE topic_id = ? AND kind = ? ORDER BY id`
		args = append(args, kind)
	}

	rows, err := s.read().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []models.TopicAttachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

const attachmentSelect = `SELECT id, topic_id, kind, key, value_json, dedupe_key,
	source_message_id, created_at FROM topic_attachments`

// findAttachment looks up an existing row by the dedupe identity inside the
// write transaction. A nil key matches the stored NULL.
func findAttachment(ctx context.Context, tx *sql.Tx, p AddParams) (*models.TopicAttachment, error) {
	row := tx.QueryRowContext(ctx,
		attachmentSelect+` WHERE topic_id = ? AND kind = ? AND coalesce(key, '') = coalesce(?, '') AND dedupe_key = ?`,
		p.TopicID, p.Kind, p.Key, p.DedupeKey)
	att, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return att, nil
}

func scanAttachment(r rowScanner) (*models.TopicAttachment, error) {
	var (
		att       models.TopicAttachment
		key       sql.NullString
		value     string
		sourceID  sql.NullInt64
		createdAt string
	)
	if err := r.Scan(&att.ID, &att.TopicID, &att.Kind, &key, &value, &att.DedupeKey,
		&sourceID, &createdAt); err != nil {
		return nil, err
	}
	if key.Valid {
		att.Key = &key.String
	}
	att.Value = json.RawMessage(value)
	if sourceID.Valid {
		att.SourceMessageID = &sourceID.Int64
	}
	var err error
	if att.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &att, nil
}
