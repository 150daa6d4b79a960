// Package bili ingests live-room events from the bilibili danmaku feed.
// Each client owns one room: it resolves the websocket endpoint and auth token
// through the live API, speaks the binary packet protocol, and maps the
// command stream into relay events. Connection loss is handled with an
// exponential-backoff reconnect loop; the relay core never sees it.
package bili

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/danmaku-relay/event"
)

const (
	defaultAPIBase = "https://api.live.bilibili.com"
	danmuInfoPath  = "/xlive/web-room/v1/index/getDanmuInfo?id=%s&type=0"
	wsOrigin       = "https://live.bilibili.com"
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Publisher accepts mapped events. *relay.Ingest satisfies it.
type Publisher interface {
	Publish(ev event.Event) error
}

// Config carries per-room client settings. Zero durations get defaults.
type Config struct {
	RoomID            string
	CookiePath        string
	IgnoreHeartbeat   bool
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	// APIBase overrides the live API origin; tests point it at a local server.
	APIBase string
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = defaultAPIBase
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	return c
}

// Client is one room's danmaku feed.
type Client struct {
	cfg     Config
	pub     Publisher
	httpc   *http.Client
	cookies []*http.Cookie
	log     *slog.Logger
}

// NewClient builds a client for one room. When cfg.CookiePath is set the
// Netscape cookie file is loaded once up front; an unreadable file is a hard
// error rather than a silently anonymous session.
func NewClient(cfg Config, pub Publisher) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.RoomID == "" {
		return nil, errors.New("bili: room id required")
	}
	c := &Client{
		cfg:   cfg,
		pub:   pub,
		httpc: &http.Client{Timeout: 15 * time.Second},
		log:   slog.With(slog.String("component", "bili"), slog.String("room", cfg.RoomID)),
	}
	if cfg.CookiePath != "" {
		cookies, err := LoadNetscapeCookies(cfg.CookiePath)
		if err != nil {
			return nil, err
		}
		c.cookies = cookies
	}
	return c, nil
}

// Run connects and re-connects until the context is canceled or the publisher
// rejects an event (relay shutdown). Backoff doubles per failed session with
// jitter, and resets after a session that stayed up for a while.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && errors.Is(err, errPublisherClosed) {
			return err
		}
		if time.Since(start) > time.Minute {
			attempt = 0
		}
		backoff := c.cfg.ReconnectBase * time.Duration(1<<min(attempt, 5))
		backoff += time.Duration(rand.Int63n(int64(c.cfg.ReconnectBase)))
		attempt++
		c.log.Warn("danmaku session ended, reconnecting",
			slog.Any("err", err), slog.Duration("backoff", backoff), slog.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

var errPublisherClosed = errors.New("bili: publisher closed")

type danmuInfo struct {
	Code int `json:"code"`
	Data struct {
		Token    string `json:"token"`
		HostList []struct {
			Host    string `json:"host"`
			WssPort int    `json:"wss_port"`
		} `json:"host_list"`
	} `json:"data"`
}

// resolve asks the live API for the danmaku host list and auth token.
func (c *Client) resolve(ctx context.Context) (host string, token string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+fmt.Sprintf(danmuInfoPath, c.cfg.RoomID), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", wsOrigin+"/")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("getDanmuInfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("getDanmuInfo: status %d", resp.StatusCode)
	}
	var info danmuInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", "", fmt.Errorf("getDanmuInfo: decode: %w", err)
	}
	if info.Code != 0 || len(info.Data.HostList) == 0 {
		return "", "", fmt.Errorf("getDanmuInfo: api code %d, %d hosts", info.Code, len(info.Data.HostList))
	}
	h := info.Data.HostList[0]
	return fmt.Sprintf("wss://%s:%d/sub", h.Host, h.WssPort), info.Data.Token, nil
}

// session runs one full websocket lifetime: resolve, dial, auth, then pump
// heartbeats and the inbound packet stream until something breaks.
func (c *Client) session(ctx context.Context) error {
	addr, token, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	header.Set("Origin", wsOrigin)
	if len(c.cookies) > 0 {
		header.Set("Cookie", cookieHeader(c.cookies))
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, addr, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer ws.Close()

	if err := c.authenticate(ws, token); err != nil {
		return err
	}
	c.log.Info("danmaku feed connected", slog.String("addr", addr))

	// Writer side: heartbeat ticker plus close-on-cancel.
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writeErr := make(chan error, 1)
	go func() {
		tick := time.NewTicker(c.cfg.HeartbeatInterval)
		defer tick.Stop()
		for {
			select {
			case <-sessCtx.Done():
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = ws.Close()
				return
			case <-tick.C:
				_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := ws.WriteMessage(websocket.BinaryMessage, encodePacket(verInt, opHeartbeat, nil)); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-writeErr:
			return fmt.Errorf("heartbeat: %w", err)
		default:
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatInterval * 2))
		typ, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if err := c.handleMessage(data); err != nil {
			return err
		}
	}
}

// authenticate sends the auth packet and waits for the server's reply.
func (c *Client) authenticate(ws *websocket.Conn, token string) error {
	uid := 0
	if v := cookieValue(c.cookies, "DedeUserID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			uid = n
		}
	}
	roomID, err := strconv.Atoi(c.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("room id %q: %w", c.cfg.RoomID, err)
	}
	auth, err := json.Marshal(map[string]any{
		"uid":      uid,
		"roomid":   roomID,
		"protover": verZlib,
		"platform": "web",
		"type":     2,
		"key":      token,
	})
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := ws.WriteMessage(websocket.BinaryMessage, encodePacket(verInt, opAuth, auth)); err != nil {
		return fmt.Errorf("auth write: %w", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("auth reply: %w", err)
	}
	packets, err := decodePackets(data)
	if err != nil {
		return fmt.Errorf("auth reply: %w", err)
	}
	for _, p := range packets {
		if p.op == opAuthReply {
			return nil
		}
	}
	return errors.New("no auth reply in first frame")
}

func (c *Client) handleMessage(data []byte) error {
	packets, err := decodePackets(data)
	if err != nil {
		// A malformed frame is logged and skipped; the stream usually recovers.
		c.log.Warn("dropping undecodable frame", slog.Any("err", err), slog.Int("bytes", len(data)))
		return nil
	}
	for _, p := range packets {
		switch p.op {
		case opHeartbeatReply:
			if c.cfg.IgnoreHeartbeat || len(p.body) < 4 {
				continue
			}
			popularity := binary.BigEndian.Uint32(p.body[:4])
			if ev, ok := popularityEvent(c.cfg.RoomID, popularity); ok {
				if err := c.publish(ev); err != nil {
					return err
				}
			}
		case opNotification:
			ev, ok := mapNotification(c.cfg.RoomID, p.body)
			if !ok {
				continue
			}
			if err := c.publish(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) publish(ev event.Event) error {
	if err := c.pub.Publish(ev); err != nil {
		return fmt.Errorf("%w: %v", errPublisherClosed, err)
	}
	return nil
}
