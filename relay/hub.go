// Package relay implements the core of the bridge: a TCP server speaking just
// enough of the tmi.twitch.tv protocol for a passive chat client, a hub
// fanning encoded lines out to live connections, and a bounded ingest queue
// the producers publish events through.
package relay

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/danmaku-relay/telemetry"
)

// Hub owns the set of accepted connections and performs broadcast fan-out.
// The connection set is mutated only under h.mu; broadcast snapshots the
// eligible set before iterating so registration and removal never race with
// delivery.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Register adds a newly accepted connection (still awaiting its handshake).
// It fails only after Shutdown.
func (h *Hub) Register(c *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.conns[c.ID] = c
	telemetry.AddConnections(1)
	return nil
}

// MarkLive transitions a registered connection to the Live state, making it
// eligible for broadcast. Unknown ids and repeat calls are no-ops.
func (h *Hub) MarkLive(id string) {
	h.mu.Lock()
	c := h.conns[id]
	h.mu.Unlock()
	if c == nil {
		return
	}
	if c.setLive() {
		telemetry.AddLive(1)
		telemetry.CountHandshake()
	}
}

// Deregister removes a connection from the set and releases its resources.
// Idempotent; safe to call for ids that were never registered.
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	c := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if c == nil {
		return
	}
	telemetry.AddConnections(-1)
	// Normally the connection closed itself before deregistering; this is the
	// fallback for hub-initiated removal.
	c.close(CauseShutdown, nil)
}

// Broadcast delivers lines to every live connection subscribed to channel.
// Delivery is independent per connection: a full outbound queue closes that
// connection (slow consumer) without delaying the rest, and the caller is
// never blocked beyond the bounded enqueue attempt.
func (h *Hub) Broadcast(channel string, lines []string) {
	if len(lines) == 0 {
		return
	}
	channel = strings.ToLower(channel)
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.eligible(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		if c.send(lines) {
			telemetry.CountBroadcastLines(len(lines))
			continue
		}
		slog.Warn("closing slow consumer",
			slog.String("conn", c.ID),
			slog.String("nick", c.Nick()),
			slog.String("component", "hub"))
		c.terminate(CauseSlowConsumer, nil)
	}
}

// Repeat forwards one pre-formatted bridge line to the channel's subscribers.
func (h *Hub) Repeat(channel, line string) {
	telemetry.CountRepeated()
	h.Broadcast(channel, []string{line})
}

// Shutdown closes every connection and rejects all further registrations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()
	for _, c := range conns {
		telemetry.AddConnections(-1)
		c.close(CauseShutdown, nil)
	}
	slog.Info("hub shut down", slog.Int("connections_closed", len(conns)), slog.String("component", "hub"))
}

// Closed reports whether Shutdown has been called.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Counts returns the number of registered and live connections.
func (h *Hub) Counts() (total, live int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		total++
		if c.State() == StateLive {
			live++
		}
	}
	return total, live
}
