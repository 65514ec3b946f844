// Package services is the mutation kernel: every state change runs in a
// single immediate transaction that also appends its events, so the log and
// the entity tables can never disagree. Reads go through the store's
// read-only handle.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/store"
)

// Size limits enforced by the kernel, independent of any HTTP body cap.
const (
	// MaxContentBytes caps message content_raw.
	MaxContentBytes = 64 * 1024
	// MaxAttachmentValueBytes caps attachment value_json.
	MaxAttachmentValueBytes = 16 * 1024
)

// Notifier is the post-commit hook feeding the live fan-out. Implemented by
// events.Distributor.
type Notifier interface {
	Notify()
}

// base carries the shared store handle and post-commit notifier.
type base struct {
	store    *store.Store
	notifier Notifier
}

// commit runs fn in one immediate transaction and wakes the notifier on
// success. Busy-timeout exhaustion surfaces as ErrStoreBusy; everything else
// passes through for the caller (or the HTTP adapter) to classify.
func (b base) commit(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := b.store.WithTx(ctx, fn)
	if err != nil {
		if store.IsBusy(err) {
			return fmt.Errorf("%w: %v", ErrStoreBusy, err)
		}
		return err
	}
	if b.notifier != nil {
		b.notifier.Notify()
	}
	return nil
}

func (b base) read() *sql.DB { return b.store.ReadDB() }

// now returns the timestamp used for entity rows, UTC-normalised.
func now() time.Time { return time.Now().UTC() }

// fmtTime is the storage encoding for timestamps.
func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// insertEvent appends one event via the log writer, wrapping validation
// failures unchanged so callers can test errors.Is(err, events.ErrInvalidEvent).
func insertEvent(ctx context.Context, tx *sql.Tx, rec events.Record) (int64, error) {
	return events.Insert(ctx, tx, rec)
}
