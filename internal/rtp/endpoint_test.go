package rtp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func pcmFrame(amplitude int16) []byte {
	frame := make([]byte, CodecPCMU.PCMBytesPerFrame())
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], uint16(amplitude))
	}
	return frame
}

// receiver captures endpoint output on a loopback UDP socket.
type receiver struct {
	conn *net.UDPConn
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind receiver: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &receiver{conn: conn}
}

func (r *receiver) port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *receiver) next(t *testing.T) rtp.Packet {
	t.Helper()
	buf := make([]byte, 1500)
	_ = r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := r.conn.Read(buf)
	if err != nil {
		t.Fatalf("read RTP packet: %v", err)
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal RTP packet: %v", err)
	}
	return pkt
}

func startedEndpoint(t *testing.T, remotePort int) *Endpoint {
	t.Helper()
	e := NewEndpoint(0)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(e.Stop)
	if err := e.SetRemote("127.0.0.1", remotePort); err != nil {
		t.Fatalf("SetRemote failed: %v", err)
	}
	return e
}

func TestEndpointWriteFrameAdvancesHeader(t *testing.T) {
	rx := newReceiver(t)
	e := startedEndpoint(t, rx.port())

	frame := pcmFrame(2000)
	for i := 0; i < 3; i++ {
		if err := e.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame %d failed: %v", i, err)
		}
	}

	first := rx.next(t)
	if first.Version != 2 {
		t.Errorf("Version = %d, want 2", first.Version)
	}
	if first.PayloadType != CodecPCMU.PayloadType {
		t.Errorf("PayloadType = %d, want %d", first.PayloadType, CodecPCMU.PayloadType)
	}
	if first.SSRC != e.SSRC() {
		t.Errorf("SSRC = %d, want %d", first.SSRC, e.SSRC())
	}
	if first.Marker {
		t.Error("marker set without MarkNextPacket")
	}
	if !bytes.Equal(first.Payload, CodecPCMU.Encode(frame)) {
		t.Error("payload does not match companded frame")
	}

	prev := first
	for i := 1; i < 3; i++ {
		pkt := rx.next(t)
		if pkt.SequenceNumber != prev.SequenceNumber+1 {
			t.Errorf("packet %d sequence = %d, want %d", i, pkt.SequenceNumber, prev.SequenceNumber+1)
		}
		if pkt.Timestamp-prev.Timestamp != CodecPCMU.TimestampIncrement() {
			t.Errorf("packet %d timestamp delta = %d, want %d", i, pkt.Timestamp-prev.Timestamp, CodecPCMU.TimestampIncrement())
		}
		if pkt.SSRC != first.SSRC {
			t.Errorf("packet %d SSRC = %d, want fixed %d", i, pkt.SSRC, first.SSRC)
		}
		prev = pkt
	}
}

func TestEndpointMarkerBitConsumedOnce(t *testing.T) {
	rx := newReceiver(t)
	e := startedEndpoint(t, rx.port())
	frame := pcmFrame(1000)

	if err := e.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	e.MarkNextPacket()
	if err := e.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := e.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	if pkt := rx.next(t); pkt.Marker {
		t.Error("first packet marked before MarkNextPacket")
	}
	if pkt := rx.next(t); !pkt.Marker {
		t.Error("packet after MarkNextPacket not marked")
	}
	if pkt := rx.next(t); pkt.Marker {
		t.Error("marker not consumed after one packet")
	}
}

func TestEndpointNegotiatedPayloadTypeOnWire(t *testing.T) {
	rx := newReceiver(t)
	e := startedEndpoint(t, rx.port())

	if err := e.SetPayloadType(CodecPCMA.PayloadType); err != nil {
		t.Fatalf("SetPayloadType failed: %v", err)
	}

	frame := pcmFrame(2000)
	if err := e.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	pkt := rx.next(t)
	if pkt.PayloadType != CodecPCMA.PayloadType {
		t.Errorf("PayloadType = %d, want %d", pkt.PayloadType, CodecPCMA.PayloadType)
	}
	if !bytes.Equal(pkt.Payload, CodecPCMA.Encode(frame)) {
		t.Error("payload not A-law encoded after negotiating PCMA")
	}
}

func TestEndpointSilenceBytesOnWire(t *testing.T) {
	tests := []struct {
		codec Codec
		want  byte
	}{
		{CodecPCMU, 0xFF},
		{CodecPCMA, 0xD5},
	}

	for _, tt := range tests {
		rx := newReceiver(t)
		e := startedEndpoint(t, rx.port())
		if err := e.SetPayloadType(tt.codec.PayloadType); err != nil {
			t.Fatalf("SetPayloadType(%s) failed: %v", tt.codec.Name, err)
		}

		if err := e.SendSilence(tt.codec.FrameDur); err != nil {
			t.Fatalf("SendSilence(%s) failed: %v", tt.codec.Name, err)
		}

		pkt := rx.next(t)
		if len(pkt.Payload) != tt.codec.PayloadBytesPerFrame() {
			t.Errorf("%s silence payload length = %d, want %d", tt.codec.Name, len(pkt.Payload), tt.codec.PayloadBytesPerFrame())
		}
		for i, b := range pkt.Payload {
			if b != tt.want {
				t.Errorf("%s silence byte %d = %#02x, want %#02x", tt.codec.Name, i, b, tt.want)
				break
			}
		}
	}
}

func TestEndpointWriteFrameWithoutRemote(t *testing.T) {
	e := NewEndpoint(0)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(e.Stop)

	if err := e.WriteFrame(pcmFrame(100)); err == nil {
		t.Error("expected error writing before SetRemote")
	}
}

func TestEndpointReceiveDecodesToSubscribers(t *testing.T) {
	port := freeUDPPort(t)
	e := NewEndpoint(port)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(e.Stop)

	got := make(chan []byte, 4)
	e.Subscribe("test", func(pcm []byte) {
		got <- pcm
	})

	sender, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("dial endpoint: %v", err)
	}
	defer sender.Close()

	// telephone-event packets must be dropped, not decoded
	sendRTP(t, sender, CodecTelephoneEvent.PayloadType, []byte{0x01, 0x0A, 0x00, 0xA0})
	time.Sleep(50 * time.Millisecond)

	silence := make([]byte, CodecPCMU.PayloadBytesPerFrame())
	for i := range silence {
		silence[i] = 0xFF
	}
	sendRTP(t, sender, CodecPCMU.PayloadType, silence)

	select {
	case pcm := <-got:
		if len(pcm) != CodecPCMU.PCMBytesPerFrame() {
			t.Errorf("decoded frame length = %d, want %d", len(pcm), CodecPCMU.PCMBytesPerFrame())
		}
		for i := 0; i < len(pcm); i += 2 {
			if s := int16(binary.LittleEndian.Uint16(pcm[i:])); s < -32 || s > 32 {
				t.Errorf("sample %d = %d, want near-zero silence", i/2, s)
				break
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no decoded frame delivered")
	}

	select {
	case <-got:
		t.Error("telephone-event packet was decoded as audio")
	default:
	}

	if received, lost := e.Stats(); received != 1 || lost != 0 {
		t.Errorf("Stats() = %d received, %d lost; want 1, 0", received, lost)
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("probe free port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func sendRTP(t *testing.T, conn *net.UDPConn, payloadType uint8, payload []byte) {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: 100,
			Timestamp:      8000,
			SSRC:           0x1234,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal RTP packet: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("send RTP packet: %v", err)
	}
}
