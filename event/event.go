// Package event defines the immutable live-room event model the relay forwards.
// Events are constructed once at the producer boundary (bilibili client, Twitch
// mirror, bridge peers) and never mutated afterwards; the constructor validates
// required fields and strips embedded line terminators so downstream encoding
// can assume a body never breaks IRC framing.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the live-room happenings the relay understands.
type Kind int

const (
	// KindChat is a regular chat (danmaku) message.
	KindChat Kind = iota
	// KindRoomEntry is a synthesized room-entry/interaction notice.
	KindRoomEntry
	// KindGift is a synthesized gift/guard-purchase notice.
	KindGift
	// KindHeartbeat is an upstream keep-alive; it carries no body.
	KindHeartbeat
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindRoomEntry:
		return "room_entry"
	case KindGift:
		return "gift"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// ErrInvalidEvent is returned when an event is constructed with missing
// required fields. Such events never enter the relay pipeline.
var ErrInvalidEvent = errors.New("invalid event")

// Event is one discrete live-room happening. RoomID tags the originating room;
// Timestamp is capture time and is used for diagnostics only, never for
// protocol framing.
type Event struct {
	Kind      Kind
	Sender    string
	Body      string
	RoomID    string
	Timestamp time.Time
}

// New builds a validated event. Non-heartbeat kinds require a sender and a
// body; both are sanitized of embedded line terminators before validation, so
// a value that is nothing but terminators is rejected too.
func New(kind Kind, sender, body, roomID string) (Event, error) {
	sender = Sanitize(sender)
	body = Sanitize(body)
	if kind != KindHeartbeat && (sender == "" || body == "") {
		return Event{}, fmt.Errorf("%w: %s event requires sender and body", ErrInvalidEvent, kind)
	}
	if kind == KindHeartbeat && body != "" {
		return Event{}, fmt.Errorf("%w: heartbeat carries no body", ErrInvalidEvent)
	}
	return Event{
		Kind:      kind,
		Sender:    sender,
		Body:      body,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Heartbeat builds a keep-alive event for a room.
func Heartbeat(roomID string) Event {
	return Event{Kind: KindHeartbeat, RoomID: roomID, Timestamp: time.Now().UTC()}
}

// Sanitize collapses CR/LF into spaces and trims surrounding whitespace.
// IRC lines must not contain embedded terminators.
func Sanitize(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return strings.TrimSpace(s)
	}
	r := strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")
	return strings.TrimSpace(r.Replace(s))
}
