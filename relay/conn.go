package relay

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/danmaku-relay/irc"
	"github.com/onnwee/danmaku-relay/telemetry"
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	// StateAwaitingHandshake: accepted, handshake window open.
	StateAwaitingHandshake ConnState = iota
	// StateLive: handshake complete, eligible for broadcast.
	StateLive
	// StateClosed: terminal; the connection is never reused.
	StateClosed
)

// connConfig carries per-connection policy knobs, filled in by the server.
type connConfig struct {
	handshakeTimeout time.Duration
	maxLineLen       int
	queueSize        int
	writeTimeout     time.Duration
}

// Conn is one accepted client socket. A read goroutine runs the handshake
// state machine and consumes keep-alive input; a write goroutine drains the
// bounded outbound queue. Both exit when done is closed.
type Conn struct {
	ID   string
	hub  *Hub
	sock net.Conn
	cfg  connConfig

	out  chan string
	done chan struct{}

	mu       sync.Mutex
	state    ConnState
	nick     string
	channels map[string]struct{}
	bridge   bool
	cause    CloseCause
	lastErr  error

	closeOnce sync.Once
	log       *slog.Logger
}

func newConn(hub *Hub, sock net.Conn, cfg connConfig) *Conn {
	c := &Conn{
		ID:       uuid.New().String(),
		hub:      hub,
		sock:     sock,
		cfg:      cfg,
		out:      make(chan string, cfg.queueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	c.log = slog.Default().With(
		slog.String("conn", c.ID),
		slog.String("remote", sock.RemoteAddr().String()),
		slog.String("component", "relay"))
	return c
}

// run drives the connection until it closes. Callers invoke it on its own
// goroutine; it spawns the write loop itself.
func (c *Conn) run() {
	go c.writeLoop()
	c.readLoop()
}

func (c *Conn) readLoop() {
	// The handshake window is an absolute deadline; it is cleared once the
	// connection goes live (a silent live client is normal) or turns out to
	// be a producer bridge.
	if err := c.sock.SetReadDeadline(time.Now().Add(c.cfg.handshakeTimeout)); err != nil {
		c.terminate(CauseReadError, err)
		return
	}
	// ReadSlice surfaces ErrBufferFull when no terminator arrives within the
	// buffer, which is exactly the framing bound we want to enforce.
	r := bufio.NewReaderSize(c.sock, c.cfg.maxLineLen)
	for {
		raw, err := r.ReadSlice('\n')
		line := string(raw)
		if err != nil {
			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				c.log.Warn("line exceeds maximum length; dropping connection")
				c.notify(irc.Notice(c.noticeTarget(), "Line exceeded maximum length"))
				c.terminate(CauseFrameTooLong, err)
			case isTimeout(err) && c.State() == StateAwaitingHandshake:
				c.log.Info("handshake window expired")
				c.terminate(CauseHandshakeTimeout, err)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.terminate(CauseReadError, err)
			default:
				c.terminate(CauseReadError, err)
			}
			return
		}
		c.log.Debug("recv", slog.String("line", strings.TrimRight(line, "\r\n")))
		c.handleLine(line)
		if c.State() == StateClosed {
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			if err := c.sock.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
				c.terminate(CauseWriteError, err)
				return
			}
			if _, err := io.WriteString(c.sock, line); err != nil {
				c.terminate(CauseWriteError, err)
				return
			}
		}
	}
}

// handleLine advances the state machine by one inbound line. Malformed or
// unrecognized commands are deliberately ignored rather than fatal: the
// console's client implementation is fixed, so the server must accept
// whatever it sends and never block waiting for a command that never comes.
func (c *Conn) handleLine(raw string) {
	cmd := irc.ParseLine(raw)
	if cmd.Prefixed {
		// The peer is a message bridge forwarding a pre-formatted line.
		if ch, ok := irc.ForwardChannel(cmd); ok {
			c.markBridge()
			c.hub.Repeat(ch, cmd.Raw+irc.Terminator)
		}
		return
	}
	switch cmd.Verb {
	case "":
		// blank line
	case "NICK":
		if c.State() != StateAwaitingHandshake || len(cmd.Params) == 0 {
			return
		}
		c.completeHandshake(cmd.Params[0])
	case "PASS", "CAP", "USER":
		// Accepted and discarded. The handshake requires only a nickname;
		// clients may send these in any order before or after it.
	case "JOIN":
		if c.State() != StateLive {
			return
		}
		target := cmd.Trailing
		if len(cmd.Params) > 0 {
			target = cmd.Params[0]
		}
		for _, ch := range strings.Split(target, ",") {
			if ch = irc.NormalizeChannel(ch); ch != "" {
				c.subscribe(ch, true)
			}
		}
	case "PING":
		token := cmd.Trailing
		if token == "" && len(cmd.Params) > 0 {
			token = cmd.Params[0]
		}
		c.enqueue(irc.Pong(token))
	case "QUIT":
		c.terminate(CauseClientQuit, nil)
	default:
		// unrecognized, ignore
	}
}

// completeHandshake records the nickname, sends the welcome sequence,
// auto-subscribes #<nick>, and asks the hub to mark the connection live.
func (c *Conn) completeHandshake(nick string) {
	c.mu.Lock()
	c.nick = nick
	c.channels[irc.NormalizeChannel(nick)] = struct{}{}
	c.mu.Unlock()
	if !c.enqueue(irc.Welcome(nick)...) {
		c.terminate(CauseSlowConsumer, nil)
		return
	}
	// A live client may sit silent indefinitely.
	_ = c.sock.SetReadDeadline(time.Time{})
	c.hub.MarkLive(c.ID)
	c.log.Info("handshake complete", slog.String("nick", nick))
}

// subscribe adds a channel to the connection's set, acknowledging explicit JOINs.
func (c *Conn) subscribe(channel string, ack bool) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	nick := c.nick
	c.mu.Unlock()
	if ack {
		c.enqueue(irc.JoinAck(nick, channel)...)
	}
}

// markBridge reclassifies the peer as a producer bridge: exempt from the
// handshake window and never a broadcast target.
func (c *Conn) markBridge() {
	c.mu.Lock()
	already := c.bridge
	c.bridge = true
	c.mu.Unlock()
	if !already {
		_ = c.sock.SetReadDeadline(time.Time{})
		c.log.Info("peer identified as producer bridge")
	}
}

// setLive flips AwaitingHandshake to Live; reports whether it transitioned.
func (c *Conn) setLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAwaitingHandshake {
		return false
	}
	c.state = StateLive
	return true
}

// eligible reports whether the connection should receive a broadcast to channel.
func (c *Conn) eligible(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive || c.bridge {
		return false
	}
	_, ok := c.channels[channel]
	return ok
}

// send queues lines for delivery without blocking. It reports false when the
// outbound queue is full or the connection is closed; the caller decides what
// that means (for broadcast: close the slow consumer).
func (c *Conn) send(lines []string) bool {
	for _, line := range lines {
		select {
		case <-c.done:
			return false
		case c.out <- line:
		default:
			return false
		}
	}
	return true
}

// enqueue is send for the connection's own replies.
func (c *Conn) enqueue(lines ...string) bool {
	return c.send(lines)
}

// notify writes one line straight to the socket, bypassing the outbound
// queue. Used for a last diagnostic right before the connection is torn
// down, when the write loop may no longer drain the queue.
func (c *Conn) notify(line string) {
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	_, _ = io.WriteString(c.sock, line)
}

// noticeTarget is the nick when known, otherwise the pre-registration "*".
func (c *Conn) noticeTarget() string {
	if nick := c.Nick(); nick != "" {
		return nick
	}
	return "*"
}

// terminate closes the connection with a cause and removes it from the hub.
func (c *Conn) terminate(cause CloseCause, err error) {
	c.close(cause, err)
	c.hub.Deregister(c.ID)
}

// close releases socket resources exactly once and records the close cause.
func (c *Conn) close(cause CloseCause, err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasLive := c.state == StateLive
		c.state = StateClosed
		c.cause = cause
		c.lastErr = err
		c.mu.Unlock()
		close(c.done)
		_ = c.sock.Close()
		if wasLive {
			telemetry.AddLive(-1)
		}
		telemetry.CountClose(cause.String())
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			c.log.Info("connection closed", slog.String("cause", cause.String()), slog.Any("err", err))
		} else {
			c.log.Info("connection closed", slog.String("cause", cause.String()))
		}
	})
}

// State returns the lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Nick returns the nickname captured during the handshake.
func (c *Conn) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// Cause returns why the connection closed (CauseNone while open).
func (c *Conn) Cause() CloseCause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
