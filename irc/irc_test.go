package irc

import (
	"strings"
	"testing"

	"github.com/onnwee/danmaku-relay/event"
)

func mustEvent(t *testing.T, kind event.Kind, sender, body string) event.Event {
	t.Helper()
	ev, err := event.New(kind, sender, body, "1")
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return ev
}

func TestEncodeChat(t *testing.T) {
	enc := Encoder{Channel: "#room"}
	lines := enc.Encode(mustEvent(t, event.KindChat, "Alice", "hello"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	want := ":Alice!Alice@Alice.tmi.twitch.tv PRIVMSG #room :hello\r\n"
	if lines[0] != want {
		t.Fatalf("got %q want %q", lines[0], want)
	}
}

func TestEncodeRoomEntry(t *testing.T) {
	enc := Encoder{Channel: "#room"}
	lines := enc.Encode(mustEvent(t, event.KindRoomEntry, "Bob", "Bob entered the room"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "Bob") || !strings.Contains(lines[0], "Bob entered the room") {
		t.Fatalf("sender or body missing: %q", lines[0])
	}
}

func TestEncodeLinesTerminated(t *testing.T) {
	enc := Encoder{Channel: "#c"}
	for _, kind := range []event.Kind{event.KindChat, event.KindRoomEntry, event.KindGift} {
		for _, line := range enc.Encode(mustEvent(t, kind, "u", "b")) {
			if !strings.HasSuffix(line, "\r\n") {
				t.Fatalf("%s line not terminated: %q", kind, line)
			}
			if strings.ContainsAny(strings.TrimSuffix(line, "\r\n"), "\r\n") {
				t.Fatalf("%s line has embedded terminator: %q", kind, line)
			}
		}
	}
}

func TestEncodeHeartbeat(t *testing.T) {
	hb := event.Heartbeat("1")
	if lines := (Encoder{Channel: "#c"}).Encode(hb); len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
	lines := (Encoder{Channel: "#c", HeartbeatPing: true}).Encode(hb)
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "PING ") {
		t.Fatalf("expected one PING line, got %v", lines)
	}
}

func TestPrivmsgStripsTerminatorsDefensively(t *testing.T) {
	line := Privmsg("Eve", "#c", "a\r\nJOIN #evil")
	if strings.Count(line, "\r\n") != 1 || !strings.HasSuffix(line, "\r\n") {
		t.Fatalf("injection survived: %q", line)
	}
}

func TestWelcomeReferencesNickname(t *testing.T) {
	lines := Welcome("console")
	if len(lines) != 7 {
		t.Fatalf("expected 7 welcome lines, got %d", len(lines))
	}
	for i, l := range lines {
		if !strings.Contains(l, "console") {
			t.Fatalf("line %d missing nickname: %q", i, l)
		}
		if !strings.HasSuffix(l, "\r\n") {
			t.Fatalf("line %d not terminated: %q", i, l)
		}
	}
	if !strings.Contains(lines[0], " 001 ") || !strings.Contains(lines[6], " 376 ") {
		t.Fatal("welcome numerics out of order")
	}
}

func TestJoinAck(t *testing.T) {
	lines := JoinAck("nick", "#chan")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "JOIN #chan") || !strings.Contains(lines[1], " 353 ") {
		t.Fatalf("unexpected join ack: %v", lines)
	}
}

func TestPong(t *testing.T) {
	if got := Pong("tok"); got != ":tmi.twitch.tv PONG tmi.twitch.tv :tok\r\n" {
		t.Fatalf("unexpected pong: %q", got)
	}
	if got := Pong(""); !strings.HasSuffix(got, "\r\n") {
		t.Fatalf("unterminated pong: %q", got)
	}
}

func TestNotice(t *testing.T) {
	want := ":tmi.twitch.tv NOTICE console :Line exceeded maximum length\r\n"
	if got := Notice("console", "Line exceeded maximum length"); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseLineBasic(t *testing.T) {
	cmd := ParseLine("NICK console\r\n")
	if cmd.Verb != "NICK" || len(cmd.Params) != 1 || cmd.Params[0] != "console" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}

func TestParseLineCaseInsensitive(t *testing.T) {
	if cmd := ParseLine("nick console"); cmd.Verb != "NICK" {
		t.Fatalf("expected NICK, got %q", cmd.Verb)
	}
	if cmd := ParseLine("Cap REQ :twitch.tv/tags"); cmd.Verb != "CAP" || cmd.Trailing != "twitch.tv/tags" {
		t.Fatalf("unexpected CAP parse: %+v", ParseLine("Cap REQ :twitch.tv/tags"))
	}
}

func TestParseLineTrailing(t *testing.T) {
	cmd := ParseLine("PING :go-twitch-irc")
	if cmd.Verb != "PING" || cmd.Trailing != "go-twitch-irc" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}

func TestParseLinePrefixed(t *testing.T) {
	cmd := ParseLine(":SYSTEM!SYSTEM@SYSTEM.tmi.twitch.tv PRIVMSG #room :hello there\r\n")
	if !cmd.Prefixed || cmd.Verb != "PRIVMSG" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
	ch, ok := ForwardChannel(cmd)
	if !ok || ch != "#room" {
		t.Fatalf("forward channel: %q %v", ch, ok)
	}
}

func TestForwardChannelRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		":x NOTICE #room :nope",
		":x PRIVMSG room :no hash",
		"PRIVMSG #room :not prefixed",
		":lonelyprefix",
	} {
		if _, ok := ForwardChannel(ParseLine(raw)); ok {
			t.Fatalf("expected rejection for %q", raw)
		}
	}
}

func TestParseLineEmpty(t *testing.T) {
	if cmd := ParseLine("\r\n"); cmd.Verb != "" {
		t.Fatalf("expected empty verb, got %+v", cmd)
	}
}

func TestNormalizeChannel(t *testing.T) {
	if got := NormalizeChannel("Room"); got != "#room" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeChannel("#Room"); got != "#room" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeChannel(""); got != "" {
		t.Fatalf("got %q", got)
	}
}
