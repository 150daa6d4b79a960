// Package irc renders relay events as Twitch-flavoured IRC lines and parses
// the small command subset a connecting client may send. The line grammar
// mimics tmi.twitch.tv closely enough for stock Twitch chat clients to treat
// the relay as the real thing.
package irc

import (
	"fmt"
	"strings"

	"github.com/onnwee/danmaku-relay/event"
)

// ServerName is the host identity the relay presents in every server-originated
// line. Stock Twitch clients key their parsing on this name.
const ServerName = "tmi.twitch.tv"

// Terminator is the IRC line ending.
const Terminator = "\r\n"

// Encoder turns events into broadcast-ready IRC lines. It is a pure value;
// formatting policy for gift/entry descriptions lives with the producers, the
// encoder only delivers a body as if said by a sender.
type Encoder struct {
	// Channel is the fixed channel broadcasts are addressed to, e.g. "#room".
	Channel string
	// HeartbeatPing makes heartbeats emit a protocol-level PING line instead
	// of nothing.
	HeartbeatPing bool
}

// Encode maps one event to zero or more terminated IRC lines.
func (e Encoder) Encode(ev event.Event) []string {
	if ev.Kind == event.KindHeartbeat {
		if e.HeartbeatPing {
			return []string{"PING :" + ServerName + Terminator}
		}
		return nil
	}
	return []string{Privmsg(ev.Sender, e.Channel, ev.Body)}
}

// Privmsg formats one chat-message line the way tmi.twitch.tv emits it.
// Embedded terminators are stripped as a last resort; callers are expected to
// have sanitized upstream.
func Privmsg(sender, channel, body string) string {
	sender = event.Sanitize(sender)
	body = event.Sanitize(body)
	return fmt.Sprintf(":%s!%s@%s.%s PRIVMSG %s :%s%s",
		sender, sender, sender, ServerName, channel, body, Terminator)
}

// Welcome returns the fixed authentication-success sequence referencing the
// submitted nickname (numerics 001-004 plus the MOTD trio).
func Welcome(nick string) []string {
	return []string{
		fmt.Sprintf(":%s 001 %s :Welcome, GLHF!%s", ServerName, nick, Terminator),
		fmt.Sprintf(":%s 002 %s :Your host is %s%s", ServerName, nick, ServerName, Terminator),
		fmt.Sprintf(":%s 003 %s :This server is rather new%s", ServerName, nick, Terminator),
		fmt.Sprintf(":%s 004 %s :-%s", ServerName, nick, Terminator),
		fmt.Sprintf(":%s 375 %s :-%s", ServerName, nick, Terminator),
		fmt.Sprintf(":%s 372 %s :You are in a maze of twisty passages, all alike.%s", ServerName, nick, Terminator),
		fmt.Sprintf(":%s 376 %s :>%s", ServerName, nick, Terminator),
	}
}

// JoinAck returns the JOIN confirmation plus the names (353) line for one channel.
func JoinAck(nick, channel string) []string {
	return []string{
		fmt.Sprintf(":%s!%s@%s.%s JOIN %s%s", nick, nick, nick, ServerName, channel, Terminator),
		fmt.Sprintf(":%s.%s 353 %s = %s :%s%s", nick, ServerName, nick, channel, nick, Terminator),
	}
}

// Notice formats a server notice addressed to a nick or channel. Stock
// clients surface these as system messages; the relay sends one as a last
// diagnostic before dropping a misbehaving peer.
func Notice(target, text string) string {
	return fmt.Sprintf(":%s NOTICE %s :%s%s", ServerName, target, text, Terminator)
}

// Pong answers a client PING, echoing its token when present.
func Pong(token string) string {
	if token == "" {
		return fmt.Sprintf(":%s PONG %s%s", ServerName, ServerName, Terminator)
	}
	return fmt.Sprintf(":%s PONG %s :%s%s", ServerName, ServerName, token, Terminator)
}

// IsChannel reports whether name looks like an IRC channel name.
func IsChannel(name string) bool {
	return strings.HasPrefix(name, "#") && len(name) > 1
}

// NormalizeChannel lowercases a channel name and guarantees the # prefix.
func NormalizeChannel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return name
	}
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	return name
}
