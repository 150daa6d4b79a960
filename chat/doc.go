// Package chat contains the optional Twitch chat mirror.
//
// StartTwitchChatMirror connects to Twitch IRC for TWITCH_CHANNEL with an
// anonymous justinfan session (or TWITCH_BOT_USERNAME/TWITCH_OAUTH_TOKEN when
// provided) and republishes every chat message into the relay's ingest queue,
// so consoles watching the relay see the mirrored channel interleaved with the
// bilibili feeds. When TWITCH_CHANNEL is not set the mirror is skipped
// entirely.
package chat
