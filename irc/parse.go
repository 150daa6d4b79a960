package irc

import "strings"

// Command is one parsed inbound line. The parser is deliberately lenient:
// anything framed as a line parses into a Command, and the caller decides
// which verbs it cares about. Unrecognized verbs are an explicit
// "ignore" branch in the connection state machine, not a parse failure.
type Command struct {
	// Verb is the uppercased command name (NICK, PASS, CAP, JOIN, PING, ...).
	// Empty for blank lines.
	Verb string
	// Params are the middle parameters, not including the trailing parameter.
	Params []string
	// Trailing is the parameter introduced by " :", if any.
	Trailing string
	// Prefixed reports that the line began with ':' — the peer is a message
	// bridge forwarding a pre-formatted server line, not a client command.
	Prefixed bool
	// Raw is the line as received, terminators stripped.
	Raw string
}

// ParseLine parses one inbound IRC line. Line terminators are stripped first.
func ParseLine(line string) Command {
	raw := strings.TrimRight(line, "\r\n")
	cmd := Command{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return cmd
	}
	if strings.HasPrefix(s, ":") {
		cmd.Prefixed = true
		// Consume the prefix token, then parse the rest like a normal command.
		if i := strings.IndexByte(s, ' '); i >= 0 {
			s = strings.TrimSpace(s[i+1:])
		} else {
			return cmd
		}
	}
	// Split off the trailing parameter before tokenizing.
	if i := strings.Index(s, " :"); i >= 0 {
		cmd.Trailing = s[i+2:]
		s = strings.TrimSpace(s[:i])
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return cmd
	}
	cmd.Verb = strings.ToUpper(fields[0])
	cmd.Params = fields[1:]
	return cmd
}

// ForwardChannel extracts the target channel from a bridge-forwarded PRIVMSG
// line (a ':'-prefixed line as produced by an upstream fetcher). The second
// return is false when the line is not a well-formed channel PRIVMSG.
func ForwardChannel(cmd Command) (string, bool) {
	if !cmd.Prefixed || cmd.Verb != "PRIVMSG" || len(cmd.Params) == 0 {
		return "", false
	}
	ch := cmd.Params[0]
	if !IsChannel(ch) {
		return "", false
	}
	return strings.ToLower(ch), true
}
