package chat

import (
	"context"
	"log/slog"
	"os"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/danmaku-relay/event"
	"github.com/onnwee/danmaku-relay/telemetry"
)

// Publisher accepts mirrored events. *relay.Ingest satisfies it.
type Publisher interface {
	Publish(ev event.Event) error
}

// StartTwitchChatMirror mirrors TWITCH_CHANNEL chat into the ingest queue.
// Blocks until the context is canceled; returns immediately when the channel
// is not configured.
func StartTwitchChatMirror(ctx context.Context, pub Publisher) {
	channel := os.Getenv("TWITCH_CHANNEL")
	if channel == "" {
		slog.Info("TWITCH_CHANNEL not set; skipping chat mirror")
		return
	}
	username := os.Getenv("TWITCH_BOT_USERNAME")
	oauth := os.Getenv("TWITCH_OAUTH_TOKEN")

	var client *twitch.Client
	if username != "" && oauth != "" {
		client = twitch.NewClient(username, oauth)
	} else {
		// Reading chat needs no credentials.
		client = twitch.NewAnonymousClient()
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		ev, err := event.New(event.KindChat, msg.User.DisplayName, msg.Message, "twitch:"+channel)
		if err != nil {
			telemetry.CountRejected()
			slog.Debug("skipping unmappable twitch message", slog.Any("err", err))
			return
		}
		if err := pub.Publish(ev); err != nil {
			slog.Warn("chat mirror publish failed", slog.Any("err", err))
			client.Disconnect()
		}
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(channel)
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
