// Command danmaku-relay bridges bilibili live-room events to Twitch-IRC chat
// clients. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres and runs idempotent migrations for the
//     event archive.
//   - Starts the relay TCP listener, the ingest drain loop, one bilibili
//     danmaku client per configured room, and the optional Twitch chat mirror.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/danmaku-relay/bili"
	"github.com/onnwee/danmaku-relay/chat"
	"github.com/onnwee/danmaku-relay/config"
	"github.com/onnwee/danmaku-relay/db"
	"github.com/onnwee/danmaku-relay/irc"
	"github.com/onnwee/danmaku-relay/relay"
	"github.com/onnwee/danmaku-relay/server"
	"github.com/onnwee/danmaku-relay/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("danmaku-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Optional event archive. Without DB_DSN the relay runs fully in memory.
	var database *sql.DB
	var sink relay.Sink
	if cfg.ArchiveEnabled() {
		database, err = db.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()

		// Versioned migrations first, embedded SQL as the fallback for
		// deployments without the migration files on disk.
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
				slog.Any("err", err),
				slog.String("component", "db_migrate"))
			if err := db.Migrate(context.Background(), database); err != nil {
				slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
				os.Exit(1)
			}
		}
		sink = &db.Archive{DB: database}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Relay core: hub, TCP listener, ingest queue.
	hub := relay.NewHub()
	srv := relay.NewServer(hub, relay.ServerConfig{
		Addr:             cfg.RelayAddr,
		HandshakeTimeout: cfg.HandshakeTimeout,
		QueueSize:        cfg.ConnQueueSize,
	})
	ln, err := srv.Listen()
	if err != nil {
		slog.Error("relay listener bind failed", slog.Any("err", err))
		os.Exit(1)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	ingest := relay.NewIngest(hub,
		irc.Encoder{Channel: cfg.RelayChannel, HeartbeatPing: cfg.HeartbeatPing},
		relay.IngestConfig{
			QueueSize:       cfg.IngestQueueSize,
			PublishTimeout:  cfg.IngestPublishTimeout,
			IgnoreHeartbeat: cfg.IgnoreHeartbeat,
		}, sink)
	go ingest.Run(ctx)

	// Producers: one danmaku client per room, plus the optional Twitch mirror.
	for _, roomID := range cfg.BiliRoomIDs {
		client, err := bili.NewClient(bili.Config{
			RoomID:          roomID,
			CookiePath:      cfg.BiliCookiePath,
			IgnoreHeartbeat: cfg.IgnoreHeartbeat,
		}, ingest)
		if err != nil {
			slog.Error("bili client init failed", slog.String("room", roomID), slog.Any("err", err))
			os.Exit(1)
		}
		go func() {
			if err := client.Run(ctx); err != nil {
				slog.Error("bili client exited", slog.Any("err", err))
			}
		}()
	}
	go chat.StartTwitchChatMirror(ctx, ingest)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			psrv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := psrv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics)
	go func() {
		if err := server.Start(ctx, hub, ingest, database, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal or a fatal accept-loop error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			slog.Error("relay server exited with error", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("relay server stopped")
	}
}
