package rtp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/sebas/voicegate/internal/metrics"
)

// FrameFunc receives one inbound frame of 16-bit little-endian PCM.
type FrameFunc func(pcm []byte)

// Endpoint owns one UDP socket carrying RTP for a single dialog. It
// packetizes outbound 20ms PCM frames and decodes inbound packets to raw
// PCM for its subscribers. The endpoint knows nothing about signaling;
// the engine binds it to a dialog and points it at the negotiated remote.
type Endpoint struct {
	localPort int

	conn   *net.UDPConn
	cancel context.CancelFunc

	// Send-side state, guarded by sendMu.
	sendMu     sync.Mutex
	remote     *net.UDPAddr
	codec      Codec
	ssrc       uint32
	seq        uint16
	timestamp  uint32
	markerNext bool
	started    bool
	stopped    bool

	// Inbound fan-out, guarded by subMu.
	subMu   sync.RWMutex
	subs    map[string]FrameFunc
	tracker SequenceTracker
}

// NewEndpoint creates an endpoint that will bind the given local port.
// The SSRC is fixed for the endpoint's life; sequence number and
// timestamp start random per RFC 3550.
func NewEndpoint(localPort int) *Endpoint {
	return &Endpoint{
		localPort: localPort,
		codec:     CodecPCMU,
		ssrc:      randomSSRC(),
		seq:       randomSequenceStart(),
		timestamp: randomTimestampStart(),
		subs:      make(map[string]FrameFunc),
	}
}

// LocalPort returns the endpoint's bound media port.
func (e *Endpoint) LocalPort() int { return e.localPort }

// SSRC returns the endpoint's fixed synchronization source id.
func (e *Endpoint) SSRC() uint32 { return e.ssrc }

// Start binds the UDP socket and begins receiving.
func (e *Endpoint) Start() error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if e.started {
		return fmt.Errorf("rtp: endpoint already started")
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: e.localPort})
	if err != nil {
		return fmt.Errorf("rtp: bind port %d: %w", e.localPort, err)
	}
	e.conn = conn
	e.started = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.receiveLoop(ctx)

	slog.Debug("[RTP] Endpoint started", "port", e.localPort, "ssrc", e.ssrc)
	return nil
}

// Stop closes the socket and stops the receive loop. Idempotent.
func (e *Endpoint) Stop() {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if !e.started || e.stopped {
		return
	}
	e.stopped = true
	e.cancel()
	_ = e.conn.Close()
	slog.Debug("[RTP] Endpoint stopped", "port", e.localPort)
}

// SetRemote points the endpoint at the peer's media address. Takes
// effect on the next send; safe to call mid-stream (re-INVITE).
func (e *Endpoint) SetRemote(addr string, port int) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		ips, err := net.LookupIP(addr)
		if err != nil || len(ips) == 0 {
			return fmt.Errorf("rtp: cannot resolve remote %q", addr)
		}
		ip = ips[0]
	}
	e.sendMu.Lock()
	e.remote = &net.UDPAddr{IP: ip, Port: port}
	e.sendMu.Unlock()
	return nil
}

// Remote returns the current remote media address, or nil if unset.
func (e *Endpoint) Remote() *net.UDPAddr {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.remote
}

// SetPayloadType selects the negotiated codec for both directions.
func (e *Endpoint) SetPayloadType(pt uint8) error {
	codec, err := CodecByPayloadType(pt)
	if err != nil {
		return err
	}
	e.sendMu.Lock()
	e.codec = codec
	e.sendMu.Unlock()
	return nil
}

// PayloadType returns the currently selected payload type.
func (e *Endpoint) PayloadType() uint8 {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.codec.PayloadType
}

// MarkNextPacket flags the next outgoing frame as a talkspurt start.
func (e *Endpoint) MarkNextPacket() {
	e.sendMu.Lock()
	e.markerNext = true
	e.sendMu.Unlock()
}

// WriteFrame compands and transmits one 20ms PCM frame immediately.
// The sequence number and timestamp advance per frame; the marker bit is
// consumed if MarkNextPacket was called.
func (e *Endpoint) WriteFrame(pcm []byte) error {
	e.sendMu.Lock()
	payload := e.codec.Encode(pcm)
	err := e.writePayloadLocked(payload)
	e.sendMu.Unlock()
	return err
}

// writePayloadLocked sends one already-encoded payload. Caller holds sendMu.
func (e *Endpoint) writePayloadLocked(payload []byte) error {
	if !e.started || e.stopped {
		return net.ErrClosed
	}
	if e.remote == nil {
		return fmt.Errorf("rtp: no remote endpoint set")
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         e.markerNext,
			PayloadType:    e.codec.PayloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.timestamp,
			SSRC:           e.ssrc,
		},
		Payload: payload,
	}
	e.markerNext = false

	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDP(data, e.remote); err != nil {
		return err
	}

	e.seq++
	e.timestamp += e.codec.TimestampIncrement()
	metrics.RTPPacketsSent.Inc()
	return nil
}

// Play transmits PCM as paced 20ms frames, one per tick. This is the
// only intentional suspension point in the media path; cancelling ctx
// aborts mid-wait and returns immediately.
func (e *Endpoint) Play(ctx context.Context, pcm []byte) error {
	e.sendMu.Lock()
	codec := e.codec
	e.sendMu.Unlock()

	frameBytes := codec.PCMBytesPerFrame()
	ticker := time.NewTicker(codec.FrameDur)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += frameBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		end := off + frameBytes
		if end > len(pcm) {
			// Pad the trailing partial frame with PCM silence
			frame := make([]byte, frameBytes)
			copy(frame, pcm[off:])
			if err := e.WriteFrame(frame); err != nil {
				return err
			}
			break
		}
		if err := e.WriteFrame(pcm[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// SendSilence transmits synthesized silence for the given duration.
// Useful to open NAT/firewall state before real audio flows.
func (e *Endpoint) SendSilence(d time.Duration) error {
	e.sendMu.Lock()
	codec := e.codec
	e.sendMu.Unlock()

	frames := int(d / codec.FrameDur)
	if frames == 0 && d > 0 {
		frames = 1
	}
	payload := make([]byte, codec.PayloadBytesPerFrame())
	for i := range payload {
		payload[i] = codec.SilenceByte()
	}

	for i := 0; i < frames; i++ {
		e.sendMu.Lock()
		err := e.writePayloadLocked(payload)
		e.sendMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers an inbound PCM listener under id, replacing any
// previous listener with the same id.
func (e *Endpoint) Subscribe(id string, fn func(pcm []byte)) {
	e.subMu.Lock()
	e.subs[id] = fn
	e.subMu.Unlock()
}

// Unsubscribe removes an inbound PCM listener.
func (e *Endpoint) Unsubscribe(id string) {
	e.subMu.Lock()
	delete(e.subs, id)
	e.subMu.Unlock()
}

// Stats returns cumulative inbound received/lost packet counts.
func (e *Endpoint) Stats() (received, lost uint64) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	return e.tracker.Stats()
}

// receiveLoop reads packets until the socket closes, decoding audio
// payloads to PCM and fanning them out to subscribers.
func (e *Endpoint) receiveLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("[RTP] Receive loop ended", "port", e.localPort, "error", err)
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		// telephone-event is advertised but digits are not collected;
		// drop those packets instead of feeding them to the decoder.
		if pkt.PayloadType == CodecTelephoneEvent.PayloadType {
			continue
		}

		codec, err := CodecByPayloadType(pkt.PayloadType)
		if err != nil {
			continue
		}

		e.subMu.Lock()
		_, lost := e.tracker.Update(pkt.SequenceNumber)
		e.subMu.Unlock()
		metrics.RTPPacketsReceived.Inc()
		if lost > 0 {
			metrics.RTPPacketsLost.Add(float64(lost))
		}

		pcm := codec.Decode(pkt.Payload)

		e.subMu.RLock()
		fns := make([]FrameFunc, 0, len(e.subs))
		for _, fn := range e.subs {
			fns = append(fns, fn)
		}
		e.subMu.RUnlock()

		for _, fn := range fns {
			fn(pcm)
		}
	}
}
