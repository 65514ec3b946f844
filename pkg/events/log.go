package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaykit/relay/pkg/models"
)

// ErrInvalidEvent is returned by Insert for records that fail validation:
// empty name or entity, or a known name missing a required scope field.
var ErrInvalidEvent = errors.New("invalid event")

// Record is the input to Insert. Data is typically one of the payload
// structs in this package; anything JSON-encodable works.
type Record struct {
	Name   string
	Scope  models.Scope
	Entity models.EntityRef
	Data   any
}

// Insert appends one event inside the caller's transaction and returns the
// assigned event id. It is the only code path that writes the events table;
// it must be called from the same transaction that made the state change, so
// the two commit or roll back together.
//
// No retries: the caller's transaction is the unit of failure.
func Insert(ctx context.Context, tx *sql.Tx, rec Record) (int64, error) {
	if err := validate(rec); err != nil {
		return 0, err
	}

	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	// encoding/json emits struct fields in declaration order and map keys
	// sorted, so equal payloads encode identically and replay is byte-stable.
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: encode data: %v", ErrInvalidEvent, err)
	}
	if len(dataJSON) == 0 || dataJSON[0] != '{' {
		return 0, fmt.Errorf("%w: data must be a JSON object", ErrInvalidEvent)
	}

	ts := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (ts, name, channel_id, topic_id, topic_id2, entity_type, entity_id, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.Format(time.RFC3339Nano), rec.Name,
		rec.Scope.ChannelID, rec.Scope.TopicID, rec.Scope.TopicID2,
		rec.Entity.Type, rec.Entity.ID, string(dataJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("append event %q: %w", rec.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read event id: %w", err)
	}
	return id, nil
}

func validate(rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidEvent)
	}
	if rec.Entity.Type == "" || rec.Entity.ID == "" {
		return fmt.Errorf("%w: entity type and id are required", ErrInvalidEvent)
	}
	req, known := knownEvents[rec.Name]
	if !known {
		return nil
	}
	if req.channel && rec.Scope.ChannelID == nil {
		return fmt.Errorf("%w: %s requires scope.channel_id", ErrInvalidEvent, rec.Name)
	}
	if req.topic && rec.Scope.TopicID == nil {
		return fmt.Errorf("%w: %s requires scope.topic_id", ErrInvalidEvent, rec.Name)
	}
	if req.topic2 && rec.Scope.TopicID2 == nil {
		return fmt.Errorf("%w: %s requires scope.topic_id2", ErrInvalidEvent, rec.Name)
	}
	return nil
}
