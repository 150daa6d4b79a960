package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onnwee/danmaku-relay/event"
)

// RecordEvent inserts one forwarded event into the archive. Write-only
// diagnostics; nothing in the relay protocol ever reads these rows back.
func RecordEvent(ctx context.Context, dbx *sql.DB, ev event.Event) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO relay_events (kind, sender, body, room_id, captured_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.Kind.String(), ev.Sender, ev.Body, ev.RoomID, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert relay event: %w", err)
	}
	return nil
}

// Archive adapts the database to the relay's ingest sink interface.
type Archive struct{ DB *sql.DB }

// Record implements relay.Sink.
func (a *Archive) Record(ctx context.Context, ev event.Event) error {
	return RecordEvent(ctx, a.DB, ev)
}
