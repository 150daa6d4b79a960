package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/danmaku-relay/event"
	"github.com/onnwee/danmaku-relay/irc"
)

func mustEvent(t *testing.T, kind event.Kind, sender, body string) event.Event {
	t.Helper()
	ev, err := event.New(kind, sender, body, "1")
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return ev
}

func TestIngestChatScenario(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	_, client, r := liveConn(t, hub, "room")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewIngest(hub, irc.Encoder{Channel: "#room"}, IngestConfig{}, nil)
	go q.Run(ctx)

	if err := q.Publish(mustEvent(t, event.KindChat, "Alice", "hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := readLine(t, r, client)
	want := ":Alice!Alice@Alice.tmi.twitch.tv PRIVMSG #room :hello\r\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestIngestRoomEntryScenario(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	_, client, r := liveConn(t, hub, "room")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewIngest(hub, irc.Encoder{Channel: "#room"}, IngestConfig{}, nil)
	go q.Run(ctx)

	if err := q.Publish(mustEvent(t, event.KindRoomEntry, "Bob", "Bob entered the room")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := readLine(t, r, client)
	if !strings.Contains(got, ":Bob!") || !strings.Contains(got, "Bob entered the room") {
		t.Fatalf("unexpected line: %q", got)
	}
}

func TestIngestOrdering(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	_, client, r := liveConn(t, hub, "room")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewIngest(hub, irc.Encoder{Channel: "#room"}, IngestConfig{}, nil)
	go q.Run(ctx)

	bodies := []string{"first", "second", "third"}
	for _, b := range bodies {
		if err := q.Publish(mustEvent(t, event.KindChat, "u", b)); err != nil {
			t.Fatalf("publish %q: %v", b, err)
		}
	}
	for _, b := range bodies {
		if got := readLine(t, r, client); !strings.Contains(got, b) {
			t.Fatalf("expected %q next, got %q", b, got)
		}
	}
}

func TestIngestIgnoreHeartbeat(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	c, client, r := liveConn(t, hub, "room")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewIngest(hub, irc.Encoder{Channel: "#room", HeartbeatPing: true}, IngestConfig{IgnoreHeartbeat: true}, nil)
	go q.Run(ctx)

	for i := 0; i < 5; i++ {
		if err := q.Publish(event.Heartbeat("1")); err != nil {
			t.Fatalf("publish heartbeat: %v", err)
		}
	}
	if err := q.Publish(mustEvent(t, event.KindChat, "Alice", "still here")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Heartbeats produce zero broadcast lines; the chat line arrives first.
	if got := readLine(t, r, client); !strings.Contains(got, "still here") {
		t.Fatalf("expected chat line, got %q", got)
	}
	if c.State() != StateLive {
		t.Fatal("heartbeats must not close connections")
	}
}

func TestIngestHeartbeatPing(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	_, client, r := liveConn(t, hub, "room")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewIngest(hub, irc.Encoder{Channel: "#room", HeartbeatPing: true}, IngestConfig{}, nil)
	go q.Run(ctx)

	if err := q.Publish(event.Heartbeat("1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := readLine(t, r, client); !strings.HasPrefix(got, "PING ") {
		t.Fatalf("expected PING, got %q", got)
	}
}

func TestIngestDropOldest(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	// No drain loop: the queue stays stalled.
	q := NewIngest(hub, irc.Encoder{Channel: "#room"}, IngestConfig{QueueSize: 2, PublishTimeout: 20 * time.Millisecond}, nil)

	for _, b := range []string{"one", "two", "three"} {
		if err := q.Publish(mustEvent(t, event.KindChat, "u", b)); err != nil {
			t.Fatalf("publish %q: %v", b, err)
		}
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}
	if q.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", q.Depth())
	}

	// Once draining starts, the survivors come out in order: two, three.
	_, client, r := liveConn(t, hub, "room")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)
	for _, b := range []string{"two", "three"} {
		if got := readLine(t, r, client); !strings.Contains(got, b) {
			t.Fatalf("expected %q, got %q", b, got)
		}
	}
}

func TestIngestPublishAfterShutdown(t *testing.T) {
	hub := NewHub()
	q := NewIngest(hub, irc.Encoder{Channel: "#room"}, IngestConfig{}, nil)
	hub.Shutdown()
	if err := q.Publish(mustEvent(t, event.KindChat, "u", "b")); err != ErrHubClosed {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}

type recordingSink struct {
	mu  sync.Mutex
	got []event.Event
}

func (s *recordingSink) Record(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return nil
}

func (s *recordingSink) events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.got...)
}

func TestIngestSinkSkipsHeartbeats(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewIngest(hub, irc.Encoder{Channel: "#room"}, IngestConfig{}, sink)
	go q.Run(ctx)

	if err := q.Publish(event.Heartbeat("1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(mustEvent(t, event.KindGift, "Carol", "sent gift Rose x3")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sink never recorded the gift")
		}
		time.Sleep(5 * time.Millisecond)
	}
	evs := sink.events()
	if len(evs) != 1 || evs[0].Kind != event.KindGift {
		t.Fatalf("unexpected sink contents: %+v", evs)
	}
}
