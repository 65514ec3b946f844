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

// ChannelService manages the top-level routing buckets.
type ChannelService struct {
	base
}

// NewChannelService creates a ChannelService.
func NewChannelService(st *store.Store, notifier Notifier) *ChannelService {
	return &ChannelService{base{store: st, notifier: notifier}}
}

// Create inserts a channel and emits channel.created. Duplicate names are
// rejected with ErrAlreadyExists.
func (s *ChannelService) Create(ctx context.Context, name string, description *string) (*ChannelResult, error) {
	if name == "" {
		return nil, NewValidationError("name", "must not be empty")
	}

	var res ChannelResult
	err := s.commit(ctx, func(tx *sql.Tx) error {
		createdAt := now()
		ins, err := tx.ExecContext(ctx,
			`INSERT INTO channels (name, description, created_at) VALUES (?, ?, ?)`,
			name, description, fmtTime(createdAt),
		)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("channel %q: %w", name, ErrAlreadyExists)
			}
			return fmt.Errorf("insert channel: %w", err)
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return fmt.Errorf("read channel id: %w", err)
		}

		eventID, err := insertEvent(ctx, tx, events.Record{
			Name:   events.EventChannelCreated,
			Scope:  models.Scope{ChannelID: &id},
			Entity: models.EntityRef{Type: "channel", ID: strconv.FormatInt(id, 10)},
			Data:   events.ChannelCreatedData{ChannelID: id, Name: name},
		})
		if err != nil {
			return err
		}

		res = ChannelResult{
			Channel: models.Channel{ID: id, Name: name, Description: description, CreatedAt: createdAt},
			EventID: eventID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns one channel by id.
func (s *ChannelService) Get(ctx context.Context, id int64) (*models.Channel, error) {
	row := s.read().QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("channel %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return ch, nil
}

// List returns all channels in creation order.
func (s *ChannelService) List(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.read().QueryContext(ctx,
		`SELECT id, name, description, created_at FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(r rowScanner) (*models.Channel, error) {
	var (
		ch          models.Channel
		description sql.NullString
		createdAt   string
	)
	if err := r.Scan(&ch.ID, &ch.Name, &description, &createdAt); err != nil {
		return nil, err
	}
	if description.Valid {
		ch.Description = &description.String
	}
	var err error
	if ch.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &ch, nil
}
