package relay

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (*Server, *Hub, net.Listener, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	srv := NewServer(hub, ServerConfig{Addr: "127.0.0.1:0", HandshakeTimeout: 500 * time.Millisecond})
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx, ln); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, hub, ln, cancel
}

func TestServerHandshakeOverTCP(t *testing.T) {
	_, hub, ln, _ := startTestServer(t)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendLine(t, conn, "NICK console\r\n")
	for i := 0; i < 7; i++ {
		line := readLine(t, r, conn)
		if !strings.Contains(line, "console") {
			t.Fatalf("welcome line missing nickname: %q", line)
		}
	}
	deadline := time.Now().Add(time.Second)
	for {
		if _, live := hub.Counts(); live == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never went live")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerShutdownDropsClients(t *testing.T) {
	_, hub, ln, cancel := startTestServer(t)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	sendLine(t, conn, "NICK console\r\n")
	readLine(t, r, conn)

	cancel()
	// The client observes a plain TCP drop; no in-protocol goodbye is promised.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := r.ReadString('\n'); err != nil {
			break
		}
	}
	if !hub.Closed() {
		t.Fatal("hub should be closed after server stop")
	}
}

func TestServerListenBindFailure(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	srv := NewServer(hub, ServerConfig{Addr: taken.Addr().String()})
	if _, err := srv.Listen(); err == nil {
		t.Fatal("expected bind failure on occupied port")
	}
}
