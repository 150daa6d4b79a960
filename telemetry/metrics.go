// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsIngested       prometheus.Counter
	EventsDropped        prometheus.Counter
	EventsRejected       prometheus.Counter
	HeartbeatsSuppressed prometheus.Counter
	LinesBroadcast       prometheus.Counter
	LinesRepeated        prometheus.Counter
	HandshakesCompleted  prometheus.Counter

	// Per-cause connection close counter (cause label matches relay.CloseCause names)
	ConnectionsClosed *prometheus.CounterVec

	// Gauges
	ConnectionsGauge prometheus.Gauge
	LiveGauge        prometheus.Gauge
	IngestDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_ingested_total", Help: "Events accepted into the ingest queue"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_dropped_total", Help: "Events dropped by the overload (drop-oldest) policy"})
		EventsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_rejected_total", Help: "Events rejected at the producer boundary as invalid"})
		HeartbeatsSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_heartbeats_suppressed_total", Help: "Heartbeat events dropped by the ignore-heartbeat policy"})
		LinesBroadcast = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_lines_broadcast_total", Help: "IRC lines fanned out to live connections (per connection)"})
		LinesRepeated = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_lines_repeated_total", Help: "Bridge-forwarded lines repeated to channel subscribers"})
		HandshakesCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_handshakes_completed_total", Help: "Connections that completed the handshake and went live"})
		ConnectionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_connections_closed_total", Help: "Connections closed, by cause"}, []string{"cause"})
		ConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_connections", Help: "Currently registered connections"})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_live_connections", Help: "Connections past the handshake and eligible for broadcast"})
		IngestDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_ingest_depth", Help: "Events currently queued for broadcast"})
	})
}

// The helpers below are nil-safe so library code can record metrics without
// requiring Init to have run (tests exercise packages in isolation).

// CountClose increments the per-cause close counter.
func CountClose(cause string) {
	if ConnectionsClosed != nil {
		ConnectionsClosed.WithLabelValues(cause).Inc()
	}
}

// SetIngestDepth records the current ingest queue depth.
func SetIngestDepth(n int) {
	if IngestDepthGauge != nil {
		IngestDepthGauge.Set(float64(n))
	}
}

// CountIngested records one event accepted into the ingest queue.
func CountIngested() {
	if EventsIngested != nil {
		EventsIngested.Inc()
	}
}

// CountDropped records one event discarded by the drop-oldest policy.
func CountDropped() {
	if EventsDropped != nil {
		EventsDropped.Inc()
	}
}

// CountRejected records one event rejected as invalid at the producer boundary.
func CountRejected() {
	if EventsRejected != nil {
		EventsRejected.Inc()
	}
}

// CountHeartbeatSuppressed records one heartbeat dropped by policy.
func CountHeartbeatSuppressed() {
	if HeartbeatsSuppressed != nil {
		HeartbeatsSuppressed.Inc()
	}
}

// CountBroadcastLines records lines delivered to one connection.
func CountBroadcastLines(n int) {
	if LinesBroadcast != nil {
		LinesBroadcast.Add(float64(n))
	}
}

// CountRepeated records one bridge line repeated to subscribers.
func CountRepeated() {
	if LinesRepeated != nil {
		LinesRepeated.Inc()
	}
}

// CountHandshake records one completed handshake.
func CountHandshake() {
	if HandshakesCompleted != nil {
		HandshakesCompleted.Inc()
	}
}

// AddConnections adjusts the registered-connections gauge.
func AddConnections(d int) {
	if ConnectionsGauge != nil {
		ConnectionsGauge.Add(float64(d))
	}
}

// AddLive adjusts the live-connections gauge.
func AddLive(d int) {
	if LiveGauge != nil {
		LiveGauge.Add(float64(d))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
