package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/danmaku-relay/db"
	"github.com/onnwee/danmaku-relay/event"
	"github.com/onnwee/danmaku-relay/testutil"
)

func TestRecordEvent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	ev, err := event.New(event.KindChat, "Alice", "hello", "42")
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if err := db.RecordEvent(ctx, database, ev); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var kind, sender, body, roomID string
	var capturedAt time.Time
	row := database.QueryRowContext(ctx,
		`SELECT kind, sender, body, room_id, captured_at FROM relay_events ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&kind, &sender, &body, &roomID, &capturedAt); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if kind != "chat" || sender != "Alice" || body != "hello" || roomID != "42" {
		t.Fatalf("row = %s %s %s %s", kind, sender, body, roomID)
	}
	if capturedAt.IsZero() {
		t.Fatal("captured_at not recorded")
	}
}

func TestArchiveSink(t *testing.T) {
	database := testutil.SetupTestDB(t)
	sink := &db.Archive{DB: database}

	ev, err := event.New(event.KindGift, "Bob", "购买了 舰长", "42")
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if err := sink.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
