package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/onnwee/danmaku-relay/event"
	"github.com/onnwee/danmaku-relay/irc"
	"github.com/onnwee/danmaku-relay/telemetry"
)

// Sink receives a copy of every non-heartbeat event that was broadcast,
// for diagnostics archiving. Implementations must tolerate being called from
// the single ingest-drain goroutine.
type Sink interface {
	Record(ctx context.Context, ev event.Event) error
}

// IngestConfig tunes the producer-facing queue.
type IngestConfig struct {
	// QueueSize bounds the number of events awaiting broadcast (default 256).
	QueueSize int
	// PublishTimeout is how long Publish blocks on a full queue before
	// invoking the drop-oldest policy (default 250ms).
	PublishTimeout time.Duration
	// IgnoreHeartbeat drops heartbeat events before encoding.
	IgnoreHeartbeat bool
}

// Ingest is the boundary producers push events through. A single drain
// goroutine encodes each event and hands the lines to the hub, which keeps
// the per-connection ordering guarantee: events published in order are
// broadcast in order.
//
// Overload policy: when the queue is full, Publish blocks up to the
// configured timeout and then drops the oldest queued event. The relay
// favors liveness over completeness; a human reading chat cares about
// currency, not archival accuracy.
type Ingest struct {
	hub     *Hub
	enc     irc.Encoder
	cfg     IngestConfig
	ch      chan event.Event
	sink    Sink
	dropped atomic.Uint64
}

// NewIngest builds the ingest queue. sink may be nil.
func NewIngest(hub *Hub, enc irc.Encoder, cfg IngestConfig, sink Sink) *Ingest {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 250 * time.Millisecond
	}
	return &Ingest{
		hub:  hub,
		enc:  enc,
		cfg:  cfg,
		ch:   make(chan event.Event, cfg.QueueSize),
		sink: sink,
	}
}

// Publish queues one event for broadcast. It returns ErrHubClosed after
// shutdown; queue overflow is absorbed by the drop-oldest policy and is
// never surfaced as an error.
func (q *Ingest) Publish(ev event.Event) error {
	if q.hub.Closed() {
		return ErrHubClosed
	}
	for {
		timer := time.NewTimer(q.cfg.PublishTimeout)
		select {
		case q.ch <- ev:
			timer.Stop()
			telemetry.CountIngested()
			telemetry.SetIngestDepth(len(q.ch))
			return nil
		case <-timer.C:
			// Consumer stalled. Make room by discarding the oldest queued
			// event, then try again with the fresh one.
			select {
			case old := <-q.ch:
				q.dropped.Add(1)
				telemetry.CountDropped()
				slog.Warn("ingest queue full; dropped oldest event",
					slog.String("kind", old.Kind.String()),
					slog.String("room", old.RoomID),
					slog.String("component", "ingest"))
			default:
			}
		}
	}
}

// Run drains the queue until the context is canceled.
func (q *Ingest) Run(ctx context.Context) {
	slog.Info("ingest loop started",
		slog.String("channel", q.enc.Channel),
		slog.Int("queue_size", q.cfg.QueueSize),
		slog.Bool("ignore_heartbeat", q.cfg.IgnoreHeartbeat),
		slog.String("component", "ingest"))
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.ch:
			telemetry.SetIngestDepth(len(q.ch))
			if ev.Kind == event.KindHeartbeat && q.cfg.IgnoreHeartbeat {
				telemetry.CountHeartbeatSuppressed()
				continue
			}
			lines := q.enc.Encode(ev)
			if len(lines) > 0 {
				q.hub.Broadcast(q.enc.Channel, lines)
			}
			if q.sink != nil && ev.Kind != event.KindHeartbeat {
				if err := q.sink.Record(ctx, ev); err != nil {
					slog.Warn("event archive write failed", slog.Any("err", err), slog.String("component", "ingest"))
				}
			}
		}
	}
}

// Depth returns the number of queued events.
func (q *Ingest) Depth() int { return len(q.ch) }

// Capacity returns the queue bound.
func (q *Ingest) Capacity() int { return cap(q.ch) }

// Dropped returns how many events the overload policy has discarded.
func (q *Ingest) Dropped() uint64 { return q.dropped.Load() }

// Channel returns the broadcast channel name events are addressed to.
func (q *Ingest) Channel() string { return q.enc.Channel }
