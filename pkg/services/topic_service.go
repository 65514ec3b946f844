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

// TopicService manages topics within channels.
type TopicService struct {
	base
}

// NewTopicService creates a TopicService.
func NewTopicService(st *store.Store, notifier Notifier) *TopicService {
	return &TopicService{base{store: st, notifier: notifier}}
}

// Create inserts a topic and emits topic.created. The (channel_id, title)
// pair must be unique; violations return ErrAlreadyExists. An unknown
// channel returns ErrNotFound.
func (s *TopicService) Create(ctx context.Context, channelID int64, title string) (*TopicResult, error) {
	if title == "" {
		return nil, NewValidationError("title", "must not be empty")
	}

	var res TopicResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, channelID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check channel: %w", err)
		}

		createdAt := now()
		ins, err := tx.ExecContext(ctx,
			`INSERT INTO topics (channel_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			channelID, title, fmtTime(createdAt), fmtTime(createdAt),
		)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("topic %q in channel %d: %w", title, channelID, ErrAlreadyExists)
			}
			return fmt.Errorf("insert topic: %w", err)
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return fmt.Errorf("read topic id: %w", err)
		}

		eventID, err := insertEvent(ctx, tx, events.Record{
			Name:   events.EventTopicCreated,
			Scope:  models.Scope{ChannelID: &channelID, TopicID: &id},
			Entity: models.EntityRef{Type: "topic", ID: strconv.FormatInt(id, 10)},
			Data:   events.TopicCreatedData{TopicID: id, ChannelID: channelID, Title: title},
		})
		if err != nil {
			return err
		}

		res = TopicResult{
			Topic: models.Topic{
				ID: id, ChannelID: channelID, Title: title,
				CreatedAt: createdAt, UpdatedAt: createdAt,
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

// Rename changes a topic's title and emits topic.renamed with both titles.
func (s *TopicService) Rename(ctx context.Context, topicID int64, newTitle string) (*TopicResult, error) {
	if newTitle == "" {
		return nil, NewValidationError("title", "must not be empty")
	}

	var res TopicResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		topic, err := topicForUpdate(ctx, tx, topicID)
		if err != nil {
			return err
		}

		updatedAt := now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE topics SET title = ?, updated_at = ? WHERE id = ?`,
			newTitle, fmtTime(updatedAt), topicID,
		); err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("topic %q in channel %d: %w", newTitle, topic.ChannelID, ErrAlreadyExists)
			}
			return fmt.Errorf("rename topic: %w", err)
		}

		eventID, err := insertEvent(ctx, tx, events.Record{
			Name:   events.EventTopicRenamed,
			Scope:  models.Scope{ChannelID: &topic.ChannelID, TopicID: &topicID},
			Entity: models.EntityRef{Type: "topic", ID: strconv.FormatInt(topicID, 10)},
			Data: events.TopicRenamedData{
				TopicID:  topicID,
				OldTitle: topic.Title,
				NewTitle: newTitle,
			},
		})
		if err != nil {
			return err
		}

		topic.Title = newTitle
		topic.UpdatedAt = updatedAt
		res = TopicResult{Topic: *topic, EventID: eventID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns one topic by id.
func (s *TopicService) Get(ctx context.Context, id int64) (*models.Topic, error) {
	row := s.read().QueryRowContext(ctx,
		`SELECT id, channel_id, title, created_at, updated_at FROM topics WHERE id = ?`, id)
	topic, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("topic %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return topic, nil
}

// List returns the topics of a channel in creation order.
func (s *TopicService) List(ctx context.Context, channelID int64) ([]models.Topic, error) {
	rows, err := s.read().QueryContext(ctx,
		`SELECT id, channel_id, title, created_at, updated_at FROM topics WHERE channel_id = ? ORDER BY id`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var out []models.Topic
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return out, nil
}

// topicForUpdate loads a topic inside the caller's write transaction.
func topicForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Topic, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, channel_id, title, created_at, updated_at FROM topics WHERE id = ?`, id)
	topic, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("topic %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return topic, nil
}

func scanTopic(r rowScanner) (*models.Topic, error) {
	var (
		topic     models.Topic
		createdAt string
		updatedAt string
	)
	if err := r.Scan(&topic.ID, &topic.ChannelID, &topic.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if topic.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if topic.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &topic, nil
}
