package bili

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte(`{"cmd":"TEST"}`)
	frame := encodePacket(verInt, opAuth, body)
	if len(frame) != packetHeaderLen+len(body) {
		t.Fatalf("frame length = %d, want %d", len(frame), packetHeaderLen+len(body))
	}
	packets, err := decodePackets(frame)
	if err != nil {
		t.Fatalf("decodePackets: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	p := packets[0]
	if p.op != opAuth || p.protover != verInt || !bytes.Equal(p.body, body) {
		t.Fatalf("packet = %+v", p)
	}
}

func TestDecodeConcatenatedFrames(t *testing.T) {
	data := append(encodePacket(verInt, opHeartbeatReply, []byte{0, 0, 1, 0}),
		encodePacket(verPlain, opNotification, []byte(`{"cmd":"X"}`))...)
	packets, err := decodePackets(data)
	if err != nil {
		t.Fatalf("decodePackets: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if pop := binary.BigEndian.Uint32(packets[0].body); pop != 256 {
		t.Fatalf("popularity = %d, want 256", pop)
	}
	if packets[1].op != opNotification {
		t.Fatalf("second op = %d", packets[1].op)
	}
}

func TestDecodeZlibBatch(t *testing.T) {
	inner := append(encodePacket(verPlain, opNotification, []byte(`{"cmd":"A"}`)),
		encodePacket(verPlain, opNotification, []byte(`{"cmd":"B"}`))...)
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(inner); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	batch := encodePacket(verZlib, opNotification, compressed.Bytes())

	packets, err := decodePackets(batch)
	if err != nil {
		t.Fatalf("decodePackets: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if string(packets[0].body) != `{"cmd":"A"}` || string(packets[1].body) != `{"cmd":"B"}` {
		t.Fatalf("bodies = %q, %q", packets[0].body, packets[1].body)
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	if _, err := decodePackets([]byte{0, 0, 0}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestDecodeZeroLengthFrame(t *testing.T) {
	// A header declaring total=0 must be rejected, not decoded as an
	// empty packet that never advances the cursor.
	done := make(chan error, 1)
	go func() {
		_, err := decodePackets(make([]byte, packetHeaderLen))
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error for zero-length frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decodePackets hung on zero-length frame")
	}
}

func TestDecodeBadLength(t *testing.T) {
	frame := encodePacket(verPlain, opNotification, []byte("x"))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(frame)+100))
	if _, err := decodePackets(frame); err == nil {
		t.Fatal("expected error for overrun length")
	}
}
