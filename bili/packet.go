package bili

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire operations on the danmaku websocket.
const (
	opHeartbeat      = 2
	opHeartbeatReply = 3
	opNotification   = 5
	opAuth           = 7
	opAuthReply      = 8
)

// Protocol versions. We request verZlib at auth time; verBrotli bodies are
// passed through raw and fail JSON parsing downstream.
const (
	verPlain = 0
	verInt   = 1
	verZlib  = 2
)

const packetHeaderLen = 16

// packet is one decoded frame: 4-byte total length, 2-byte header length,
// 2-byte protocol version, 4-byte operation, 4-byte sequence, then the body.
// All fields big-endian.
type packet struct {
	protover uint16
	op       uint32
	body     []byte
}

func encodePacket(protover uint16, op uint32, body []byte) []byte {
	buf := make([]byte, packetHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], packetHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], protover)
	binary.BigEndian.PutUint32(buf[8:12], op)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[packetHeaderLen:], body)
	return buf
}

// decodePackets splits a websocket binary message into frames. Zlib-compressed
// notification bodies are inflated and decoded recursively, so the caller
// always sees flat, uncompressed packets.
func decodePackets(data []byte) ([]packet, error) {
	var out []packet
	for len(data) > 0 {
		if len(data) < packetHeaderLen {
			return nil, fmt.Errorf("truncated header: %d bytes", len(data))
		}
		total := binary.BigEndian.Uint32(data[0:4])
		hlen := binary.BigEndian.Uint16(data[4:6])
		if total < packetHeaderLen || int(total) < int(hlen) || int(total) > len(data) {
			return nil, fmt.Errorf("bad frame length %d (header %d, remaining %d)", total, hlen, len(data))
		}
		p := packet{
			protover: binary.BigEndian.Uint16(data[6:8]),
			op:       binary.BigEndian.Uint32(data[8:12]),
			body:     data[hlen:total],
		}
		data = data[total:]

		if p.protover == verZlib && p.op == opNotification {
			inflated, err := inflate(p.body)
			if err != nil {
				return nil, fmt.Errorf("inflate batch: %w", err)
			}
			inner, err := decodePackets(inflated)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func inflate(body []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
