package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ServerConfig carries the listener address and per-connection policy.
// Zero values are replaced with defaults matching the stock Twitch IRC port
// and the protocol's 512-byte line bound.
type ServerConfig struct {
	Addr             string
	HandshakeTimeout time.Duration
	MaxLineLen       int
	QueueSize        int
	WriteTimeout     time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = ":6667"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxLineLen <= 0 {
		c.MaxLineLen = 512
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Server accepts console connections and hands them to the hub.
type Server struct {
	hub *Hub
	cfg ServerConfig
}

// NewServer builds a server bound to the given hub.
func NewServer(hub *Hub, cfg ServerConfig) *Server {
	return &Server{hub: hub, cfg: cfg.withDefaults()}
}

// Listen binds the configured address. Split from Serve so the caller can
// fail fast (and exit non-zero) on a bind error before starting producers.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}
	slog.Info("relay listening", slog.String("addr", ln.Addr().String()), slog.String("component", "relay"))
	return ln, nil
}

// Serve accepts connections until the context is canceled, then closes the
// listener and shuts the hub down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.hub.Shutdown()
	}()
	for {
		sock, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		c := newConn(s.hub, sock, connConfig{
			handshakeTimeout: s.cfg.HandshakeTimeout,
			maxLineLen:       s.cfg.MaxLineLen,
			queueSize:        s.cfg.QueueSize,
			writeTimeout:     s.cfg.WriteTimeout,
		})
		if err := s.hub.Register(c); err != nil {
			_ = sock.Close()
			return nil
		}
		slog.Debug("accepted connection", slog.String("conn", c.ID), slog.String("remote", sock.RemoteAddr().String()))
		go c.run()
	}
}

// ListenAndServe binds and serves in one call.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
