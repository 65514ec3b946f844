package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaykit/relay/pkg/models"
)

// ErrInvalidQuery is returned by Replay for out-of-range bounds.
var ErrInvalidQuery = errors.New("invalid replay query")

// ReplayQuery selects a bounded, ordered slice of the event log.
// AfterEventID is exclusive, ReplayUntil inclusive. ChannelIDs and TopicIDs
// compose as (channel_id IN ChannelIDs) OR (topic_id IN TopicIDs OR
// topic_id2 IN TopicIDs); both empty means no scope filter.
type ReplayQuery struct {
	AfterEventID int64
	ReplayUntil  int64
	ChannelIDs   []int64
	TopicIDs     []int64
	Limit        int
}

// Replay returns matching events in strictly ascending event_id order. For
// fixed inputs and a fixed committed set in (after, until], the output is
// identical across calls; rows committed past ReplayUntil never appear.
func Replay(ctx context.Context, db *sql.DB, q ReplayQuery) ([]models.Envelope, error) {
	if q.AfterEventID < 0 {
		return nil, fmt.Errorf("%w: after_event_id %d < 0", ErrInvalidQuery, q.AfterEventID)
	}
	if q.ReplayUntil < q.AfterEventID {
		return nil, fmt.Errorf("%w: replay_until %d < after_event_id %d", ErrInvalidQuery, q.ReplayUntil, q.AfterEventID)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d <= 0", ErrInvalidQuery, q.Limit)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT event_id, ts, name, channel_id, topic_id, topic_id2, entity_type, entity_id, data
		FROM events WHERE event_id > ? AND event_id <= ?`)
	args := []any{q.AfterEventID, q.ReplayUntil}

	if clause, clauseArgs := scopeClause(q.ChannelIDs, q.TopicIDs); clause != "" {
		sb.WriteString(" AND ")
		sb.WriteString(clause)
		args = append(args, clauseArgs...)
	}

	sb.WriteString(" ORDER BY event_id ASC LIMIT ?")
	args = append(args, q.Limit)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("replay query: %w", err)
	}
	defer rows.Close()

	var out []models.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replay rows: %w", err)
	}
	return out, nil
}

// MaxEventID returns the highest committed event id, or 0 for an empty log.
// Sessions freeze this as replay_until at handshake time.
func MaxEventID(ctx context.Context, db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(event_id), 0) FROM events`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("max event id: %w", err)
	}
	return id, nil
}

// scopeClause builds the OR-composed scope filter. Returns "" when no filter
// applies.
func scopeClause(channelIDs, topicIDs []int64) (string, []any) {
	var parts []string
	var args []any
	if len(channelIDs) > 0 {
		parts = append(parts, "channel_id IN ("+placeholders(len(channelIDs))+")")
		for _, id := range channelIDs {
			args = append(args, id)
		}
	}
	if len(topicIDs) > 0 {
		ph := placeholders(len(topicIDs))
		parts = append(parts, "(topic_id IN ("+ph+") OR topic_id2 IN ("+ph+"))")
		for _, id := range topicIDs {
			args = append(args, id)
		}
		for _, id := range topicIDs {
			args = append(args, id)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// scanEnvelope reads one event row into its wire envelope.
func scanEnvelope(rows *sql.Rows) (models.Envelope, error) {
	var (
		env        models.Envelope
		ts         string
		channelID  sql.NullInt64
		topicID    sql.NullInt64
		topicID2   sql.NullInt64
		entityType string
		entityID   string
		data       string
	)
	if err := rows.Scan(&env.EventID, &ts, &env.Name, &channelID, &topicID, &topicID2, &entityType, &entityID, &data); err != nil {
		return models.Envelope{}, fmt.Errorf("scan event row: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("parse event ts: %w", err)
	}
	env.Type = FrameEvent
	env.TS = parsed
	if channelID.Valid {
		env.Scope.ChannelID = &channelID.Int64
	}
	if topicID.Valid {
		env.Scope.TopicID = &topicID.Int64
	}
	if topicID2.Valid {
		env.Scope.TopicID2 = &topicID2.Int64
	}
	env.Entity = &models.EntityRef{Type: entityType, ID: entityID}
	env.Data = json.RawMessage(data)
	return env, nil
}
